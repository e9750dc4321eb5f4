package id_test

import (
	"strings"
	"testing"

	"github.com/coodoo-workhorse/workhorse-sub001/id"
)

var kinds = []struct {
	name    string
	newFn   func() id.ID
	parseFn func(string) (id.ID, error)
	prefix  string
}{
	{"JobID", id.NewJobID, id.ParseJobID, "job_"},
	{"ExecutionID", id.NewExecutionID, id.ParseExecutionID, "exec_"},
	{"BatchID", id.NewBatchID, id.ParseBatchID, "batch_"},
	{"ChainID", id.NewChainID, id.ParseChainID, "chain_"},
}

func TestConstructorsAndRoundTrip(t *testing.T) {
	for _, k := range kinds {
		t.Run(k.name, func(t *testing.T) {
			original := k.newFn()
			if !strings.HasPrefix(original.String(), k.prefix) {
				t.Fatalf("expected prefix %q, got %q", k.prefix, original.String())
			}
			parsed, err := k.parseFn(original.String())
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if parsed.String() != original.String() {
				t.Errorf("round-trip mismatch: %q != %q", parsed.String(), original.String())
			}
		})
	}
}

func TestCrossTypeRejection(t *testing.T) {
	if _, err := id.ParseJobID(id.NewExecutionID().String()); err == nil {
		t.Error("ParseJobID accepted an execution id")
	}
	if _, err := id.ParseExecutionID(id.NewChainID().String()); err == nil {
		t.Error("ParseExecutionID accepted a chain id")
	}
	if _, err := id.ParseChainID(id.NewBatchID().String()); err == nil {
		t.Error("ParseChainID accepted a batch id")
	}
}

func TestParseEmptyAndOptional(t *testing.T) {
	if _, err := id.Parse(""); err == nil {
		t.Error("expected error for empty string")
	}

	got, err := id.ParseOptional("", id.PrefixChain)
	if err != nil {
		t.Fatalf("ParseOptional(\"\") failed: %v", err)
	}
	if !got.IsNil() {
		t.Error("expected Nil for empty optional id")
	}

	chain := id.NewChainID()
	got, err = id.ParseOptional(chain.String(), id.PrefixChain)
	if err != nil {
		t.Fatalf("ParseOptional failed: %v", err)
	}
	if got.String() != chain.String() {
		t.Errorf("mismatch: %q != %q", got.String(), chain.String())
	}
}

func TestNilID(t *testing.T) {
	var i id.ID
	if !i.IsNil() {
		t.Error("zero-value ID should be nil")
	}
	if i.String() != "" || i.Prefix() != "" {
		t.Errorf("expected empty string and prefix, got %q / %q", i.String(), i.Prefix())
	}
}

func TestTextAndSQLRoundTrip(t *testing.T) {
	original := id.NewExecutionID()

	data, err := original.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText failed: %v", err)
	}
	var restored id.ID
	if err := restored.UnmarshalText(data); err != nil {
		t.Fatalf("UnmarshalText failed: %v", err)
	}
	if restored.String() != original.String() {
		t.Errorf("text mismatch: %q != %q", restored.String(), original.String())
	}

	val, err := original.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}
	var scanned id.ID
	if err := scanned.Scan(val); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if scanned.String() != original.String() {
		t.Errorf("scan mismatch: %q != %q", scanned.String(), original.String())
	}

	var nilID id.ID
	val, err = nilID.Value()
	if err != nil || val != nil {
		t.Fatalf("expected nil value for nil ID, got %v, %v", val, err)
	}
	if err := scanned.Scan(nil); err != nil || !scanned.IsNil() {
		t.Fatalf("expected nil after scan of nil, got %q, %v", scanned.String(), err)
	}
}

func TestUniqueness(t *testing.T) {
	a := id.NewExecutionID()
	b := id.NewExecutionID()
	if a.String() == b.String() {
		t.Errorf("two consecutive ids are equal: %q", a.String())
	}
}
