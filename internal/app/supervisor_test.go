package app

import (
	"errors"
	"testing"
)

// fakeTask records start/stop calls against a shared journal so ordering
// assertions can span tasks.
type fakeTask struct {
	name     string
	journal  *[]string
	startErr error
}

func (f *fakeTask) Start() error {
	*f.journal = append(*f.journal, "start:"+f.name)
	return f.startErr
}

func (f *fakeTask) Stop() {
	*f.journal = append(*f.journal, "stop:"+f.name)
}

func TestSupervisorStartsInOrderStopsInReverse(t *testing.T) {
	var journal []string
	sup := &Supervisor{}
	sup.add("a", &fakeTask{name: "a", journal: &journal})
	sup.add("b", &fakeTask{name: "b", journal: &journal})
	sup.add("c", &fakeTask{name: "c", journal: &journal})

	if err := sup.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	sup.Stop()

	want := []string{"start:a", "start:b", "start:c", "stop:c", "stop:b", "stop:a"}
	if len(journal) != len(want) {
		t.Fatalf("journal = %v", journal)
	}
	for i := range want {
		if journal[i] != want[i] {
			t.Fatalf("journal[%d] = %q, want %q (full: %v)", i, journal[i], want[i], journal)
		}
	}
}

func TestSupervisorRollsBackOnStartFailure(t *testing.T) {
	var journal []string
	boom := errors.New("listener busy")
	sup := &Supervisor{}
	sup.add("a", &fakeTask{name: "a", journal: &journal})
	sup.add("b", &fakeTask{name: "b", journal: &journal})
	sup.add("c", &fakeTask{name: "c", journal: &journal, startErr: boom})
	sup.add("d", &fakeTask{name: "d", journal: &journal})

	err := sup.Start()
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}

	// c failed, so b and a unwind in reverse; d never starts.
	want := []string{"start:a", "start:b", "start:c", "stop:b", "stop:a"}
	if len(journal) != len(want) {
		t.Fatalf("journal = %v", journal)
	}
	for i := range want {
		if journal[i] != want[i] {
			t.Fatalf("journal[%d] = %q, want %q (full: %v)", i, journal[i], want[i], journal)
		}
	}
}

func TestStartFuncAdapter(t *testing.T) {
	started, stopped := false, false
	f := startFunc{start: func() { started = true }, stop: func() { stopped = true }}
	if err := f.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.Stop()
	if !started || !stopped {
		t.Fatalf("started = %v, stopped = %v", started, stopped)
	}
}
