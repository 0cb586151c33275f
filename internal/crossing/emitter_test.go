package crossing

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDiffEmitter_EmitsOnChange(t *testing.T) {
	var e DiffEmitter[string]
	var got []string
	for _, v := range []string{"A", "A", "B", "B", "B", "A"} {
		if out, ok := e.Emit(v); ok {
			got = append(got, out)
		}
	}
	if diff := cmp.Diff([]string{"A", "B", "A"}, got); diff != "" {
		t.Errorf("emitted mismatch (-want +got):\n%s", diff)
	}
}

func TestDiffEmitter_FirstZeroValueIsEmitted(t *testing.T) {
	var e DiffEmitter[bool]
	if _, ok := e.Emit(false); !ok {
		t.Error("first value must be emitted even when it is the zero value")
	}
	if _, ok := e.Emit(false); ok {
		t.Error("repeated value must not be emitted")
	}
}

func TestDiffEmitter_Reset(t *testing.T) {
	var e DiffEmitter[int]
	e.Emit(3)
	if last, ok := e.Last(); !ok || last != 3 {
		t.Fatalf("Last() = %d, %v; want 3, true", last, ok)
	}
	e.Reset()
	if _, ok := e.Last(); ok {
		t.Error("Last() reports a value after Reset")
	}
	if _, ok := e.Emit(3); !ok {
		t.Error("Emit after Reset must pass the value through")
	}
}
