// Command tamper-ledger corrupts a stopped node's ledger so that `clinledger verify` can be
// exercised against it. It either breaks the data hash of one chain entry or overwrites
// one state value behind the chain's back.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/clinledger/clinledger/internal/storage"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <ledger-path> <sequence>\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "       %s <ledger-path> state <key> <value>\n", os.Args[0])
	os.Exit(1)
}

func main() {
	if len(os.Args) < 3 {
		usage()
	}

	store, err := storage.New(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open ledger: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	if os.Args[2] == "state" {
		if len(os.Args) != 5 {
			usage()
		}
		err = forgeState(store, os.Args[3], os.Args[4])
	} else {
		err = corruptEntry(store, os.Args[2])
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func corruptEntry(store *storage.Storage, arg string) error {
	seq, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid sequence %q: %w", arg, err)
	}

	entry, err := store.GetChainEntry(seq)
	if err != nil {
		return err
	}

	fmt.Printf("Found entry %d (tx %s)\n", entry.SequenceNum, entry.TxID)
	fmt.Printf("  Original DataHash: %s\n", entry.DataHash)

	entry.DataHash = flipFirst(entry.DataHash)
	if err := store.PutChainEntry(entry); err != nil {
		return err
	}
	fmt.Printf("  Corrupted DataHash: %s\n", entry.DataHash)
	return nil
}

func forgeState(store *storage.Storage, key, value string) error {
	original, err := store.GetState(key)
	if err != nil {
		return err
	}
	fmt.Printf("Key %q\n", key)
	fmt.Printf("  Original value: %s\n", original)

	if err := store.Update(func(tx *storage.Tx) error {
		return tx.Put(key, []byte(value))
	}); err != nil {
		return err
	}
	fmt.Printf("  Forged value: %s\n", value)
	return nil
}

func flipFirst(h string) string {
	if h == "" {
		return "a"
	}
	if h[0] == 'a' {
		return "b" + h[1:]
	}
	return "a" + h[1:]
}
