// Package schema holds the table of record shapes shared by the contract that stores
// records and the mapper that builds them from source lines.
package schema

import (
	"bytes"
	"encoding/json"
	"sort"
)

const (
	Patient        = "patient"
	DictionaryItem = "dictionaryItem"
	Prescription   = "prescription"
	InputEventMv   = "inputEventMv"
	InputEventCv   = "inputEventCv"
)

// Schema describes one record shape: its positional fields, which of them identifies the
// record, which must be non-empty, and how it is reached on the ledger.
type Schema struct {
	Name           string
	DocType        string
	Source         string
	Fields         []string
	Identity       int
	Required       []int
	Unique         bool
	InsertFunction string
	// HeaderBytes is the size of the CSV header of the MIMIC-III export for this shape;
	// zero means the header has to be measured.
	HeaderBytes int64
}

func (s *Schema) Arity() int {
	return len(s.Fields)
}

func (s *Schema) IdentityField() string {
	return s.Fields[s.Identity]
}

// IndexName names the composite index holding one entry per record of this shape.
func (s *Schema) IndexName() string {
	return "recordType~" + s.IdentityField()
}

// StateKey is the ledger key of the record identified by id.
func (s *Schema) StateKey(id string) string {
	return s.Name + ":" + id
}

// Record is a row bound to its schema. Values are kept in declaration order.
type Record struct {
	Schema *Schema
	Values []string
}

func (r *Record) Get(field string) string {
	for i, f := range r.Schema.Fields {
		if f == field {
			return r.Values[i]
		}
	}
	return ""
}

func (r *Record) Identity() string {
	return r.Values[r.Schema.Identity]
}

// Fields returns the record as a field name to value map.
func (r *Record) Fields() map[string]string {
	m := make(map[string]string, len(r.Values))
	for i, f := range r.Schema.Fields {
		m[f] = r.Values[i]
	}
	return m
}

// MarshalJSON writes docType first, then source when the shape has one, then the fields in
// declaration order.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	writeMember := func(name, value string) error {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(name)
		if err != nil {
			return err
		}
		v, err := json.Marshal(value)
		if err != nil {
			return err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
		return nil
	}

	if err := writeMember("docType", r.Schema.DocType); err != nil {
		return nil, err
	}
	if r.Schema.Source != "" {
		if err := writeMember("source", r.Schema.Source); err != nil {
			return nil, err
		}
	}
	for i, f := range r.Schema.Fields {
		if err := writeMember(f, r.Values[i]); err != nil {
			return nil, err
		}
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

var table = map[string]*Schema{
	Patient: {
		Name:    Patient,
		DocType: "patient",
		Fields: []string{
			"rowId", "subjectId", "gender", "dob", "dod", "dodHosp", "dodSsn", "expireFlag",
		},
		Identity:       1,
		Required:       []int{0, 1, 2, 3, 7},
		InsertFunction: "insertPatient",
	},
	DictionaryItem: {
		Name:    DictionaryItem,
		DocType: "dictionaryItem",
		Fields: []string{
			"rowId", "itemid", "label", "abbreviation", "dbsource", "linksto",
			"category", "unitname", "paramType", "conceptid",
		},
		Identity:       1,
		Required:       []int{0, 1},
		InsertFunction: "insertDitem",
		HeaderBytes:    109,
	},
	Prescription: {
		Name:    Prescription,
		DocType: "prescription",
		Fields: []string{
			"rowId", "subjectId", "hadmId", "icustayId", "startdate", "enddate",
			"drugType", "drug", "drugNamePoe", "drugNameGeneric", "formularyDrugCd",
			"gsn", "ndc", "prodStrength", "doseValRx", "doseUnitRx", "formValDisp",
			"formUnitDisp", "route",
		},
		Identity:       0,
		Required:       []int{0, 1, 2, 6, 7},
		InsertFunction: "insertPrescription",
		HeaderBytes:    240,
	},
	InputEventMv: {
		Name:    InputEventMv,
		DocType: "inputEvent",
		Source:  "metavision",
		Fields: []string{
			"rowId", "subjectId", "hadmId", "icustayId", "starttime", "endtime",
			"itemid", "amount", "amountuom", "rate", "rateuom", "storetime", "cgid",
			"orderid", "linkorderid", "ordercategoryname", "secondarycategoryname",
			"ordercomponenttypedescription", "ordercategorydescription",
			"patientweight", "totalamount", "totalamountuom", "isopenbag",
			"continueinnextdept", "cancelreason", "statusdescription",
			"commentsEditedby", "commentsCanceledby", "commentsDate",
			"originalamount", "originalrate",
		},
		Identity:       0,
		Required:       []int{0, 1},
		InsertFunction: "insertInputeventMv",
		HeaderBytes:    470,
	},
	InputEventCv: {
		Name:    InputEventCv,
		DocType: "inputEvent",
		Source:  "carevue",
		Fields: []string{
			"rowId", "subjectId", "hadmId", "icustayId", "charttime", "itemid",
			"amount", "amountuom", "rate", "rateuom", "storetime", "cgid", "orderid",
			"linkorderid", "stopped", "newbottle", "originalamountuom",
			"originalroute", "originalrate", "originalrateuom", "originalsite",
		},
		Identity:       0,
		Required:       []int{0, 1},
		Unique:         true,
		InsertFunction: "insertInputeventCv",
	},
}

func Lookup(name string) (*Schema, bool) {
	s, ok := table[name]
	return s, ok
}

// ByInsertFunction finds the shape whose insert function is fn.
func ByInsertFunction(fn string) (*Schema, bool) {
	for _, s := range table {
		if s.InsertFunction == fn {
			return s, true
		}
	}
	return nil, false
}

// Names lists the record types in sorted order.
func Names() []string {
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
