package bench

import (
	"context"
	"fmt"
	"time"

	"github.com/clinledger/clinledger/internal/client"
	"github.com/clinledger/clinledger/internal/mapper"
	"github.com/clinledger/clinledger/internal/schema"
	"github.com/clinledger/clinledger/internal/stream"
)

const DefaultInsertTimeout = 4000 * time.Millisecond

// InsertWorkload reads one source line per Run and submits it as an insert.
type InsertWorkload struct {
	RecordType string
	Source     string
	// HeaderBytes overrides the schema header size; zero falls back to the schema, then to
	// measuring the first line.
	HeaderBytes int64
	Mapper      *mapper.Mapper
	Timeout     time.Duration

	env       *Env
	builder   TxBuilder
	tokenizer *stream.Tokenizer
}

func (w *InsertWorkload) Name() string {
	if sc, ok := schema.Lookup(w.RecordType); ok {
		return sc.InsertFunction
	}
	return "insert"
}

func (w *InsertWorkload) Init(ctx context.Context, env *Env) error {
	sc, ok := schema.Lookup(w.RecordType)
	if !ok {
		return &mapper.SchemaMismatchError{RecordType: w.RecordType, Message: "unknown record type"}
	}

	builder, err := BuilderFor(env.Client.Type())
	if err != nil {
		return err
	}

	header := w.HeaderBytes
	if header == 0 {
		header = sc.HeaderBytes
	}
	if header == 0 {
		header, err = stream.DetectHeader(w.Source)
		if err != nil {
			return fmt.Errorf("failed to detect header of %s: %w", w.Source, err)
		}
	}

	if w.Mapper == nil {
		w.Mapper = mapper.New(mapper.DefaultSeparator, false)
	}
	if w.Timeout == 0 {
		w.Timeout = DefaultInsertTimeout
	}

	w.env = env
	w.builder = builder
	w.tokenizer = stream.NewTokenizer(w.Source, header)

	env.logger().Debug("Insert workload initialized",
		"record_type", w.RecordType,
		"source", w.Source,
		"header_bytes", header)
	return nil
}

// Run returns stream.ErrEndOfStream once the source is exhausted.
func (w *InsertWorkload) Run(ctx context.Context) ([]*client.TxResult, error) {
	line, err := w.tokenizer.Next()
	if err != nil {
		return nil, err
	}

	rec, err := w.Mapper.Map(w.RecordType, line)
	if err != nil {
		return nil, err
	}

	results, err := w.env.Client.Invoke(ctx, w.env.Contract, w.env.Version, w.builder.BuildInsert(rec), w.Timeout)
	if err != nil {
		return nil, err
	}

	if err := recordSamples(ctx, w.env, w.Name(), results); err != nil {
		return results, err
	}
	return results, nil
}

func (w *InsertWorkload) End(ctx context.Context) error {
	return nil
}
