package actions

import (
	"context"
	"testing"
)

func TestCatalog_StableMapping(t *testing.T) {
	if Count() != 22 {
		t.Fatalf("count: got %d want 22", Count())
	}
	for i, a := range All() {
		if a.Index != i {
			t.Fatalf("index %d holds %+v", i, a)
		}
		j, ok := IndexOf(a.Name)
		if !ok || j != i {
			t.Fatalf("IndexOf(%q) = %d,%v want %d", a.Name, j, ok, i)
		}
	}
	if NameOf(Eat) != "EAT" || NameOf(-1) != "" || NameOf(Count()) != "" {
		t.Fatalf("NameOf boundaries")
	}
	if _, ok := IndexOf("JUMP"); ok {
		t.Fatalf("unknown name resolved")
	}
}

func TestExecute_DelegatesAndRecovers(t *testing.T) {
	var got string
	ok, err := Execute(context.Background(), Mine, ActuatorFunc(func(_ context.Context, name string) bool {
		got = name
		return true
	}))
	if err != nil || !ok || got != "MINE" {
		t.Fatalf("execute: ok=%v err=%v name=%q", ok, err, got)
	}

	ok, err = Execute(context.Background(), Say, ActuatorFunc(func(context.Context, string) bool {
		panic("boom")
	}))
	if ok || err == nil {
		t.Fatalf("panic must surface as failure: ok=%v err=%v", ok, err)
	}

	if ok, err := Execute(context.Background(), 99, nil); ok || err == nil {
		t.Fatalf("out of range must fail")
	}
}
