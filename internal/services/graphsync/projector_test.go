package graphsync

import (
	"errors"
	"fmt"
	"testing"

	"github.com/asakaida/provgraph/internal/repositories"
)

type call struct {
	op    string
	args  string
	props map[string]interface{}
}

// recordingWriter records calls and creates edges only between nodes it has seen
type recordingWriter struct {
	calls []call
	nodes map[string]bool
	fail  error
}

func newRecordingWriter() *recordingWriter {
	return &recordingWriter{nodes: map[string]bool{}}
}

func (w *recordingWriter) MergeNode(label, id string) error {
	w.calls = append(w.calls, call{op: "merge", args: label + ":" + id})
	w.nodes[label+":"+id] = true
	return w.fail
}

func (w *recordingWriter) DetachDeleteNode(label, id string) error {
	w.calls = append(w.calls, call{op: "detach", args: label + ":" + id})
	delete(w.nodes, label+":"+id)
	return w.fail
}

func (w *recordingWriter) CreateEdge(edgeType, fromLabel, fromID, toLabel, toID string, props map[string]interface{}) (int, error) {
	w.calls = append(w.calls, call{op: "create", args: fmt.Sprintf("%s:%s-%s->%s:%s", fromLabel, fromID, edgeType, toLabel, toID), props: props})
	if w.fail != nil {
		return 0, w.fail
	}
	if !w.nodes[fromLabel+":"+fromID] || !w.nodes[toLabel+":"+toID] {
		return 0, nil
	}
	return 1, nil
}

func (w *recordingWriter) DeleteEdge(edgeType, fromLabel, fromID, toLabel, toID string, props map[string]interface{}) (int, error) {
	w.calls = append(w.calls, call{op: "delete", args: fmt.Sprintf("%s:%s-%s->%s:%s", fromLabel, fromID, edgeType, toLabel, toID), props: props})
	return 1, w.fail
}

func mustSource(t *testing.T, table string) Source {
	t.Helper()
	src, ok := SourceByTable(table)
	if !ok {
		t.Fatalf("unknown source %s", table)
	}
	return src
}

func TestProjector_Insert(t *testing.T) {
	var p Projector

	t.Run("node insert merges the labelled node", func(t *testing.T) {
		w := newRecordingWriter()
		if err := p.Insert(w, mustSource(t, repositories.SourceActivities), Row{"id": "a1"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(w.calls) != 1 || w.calls[0].op != "merge" || w.calls[0].args != "Activity:a1" {
			t.Errorf("unexpected calls %+v", w.calls)
		}
	})

	t.Run("edge insert carries role", func(t *testing.T) {
		w := newRecordingWriter()
		w.nodes["Activity:a1"] = true
		w.nodes["Entity:e1"] = true
		row := Row{"activity_id": "a1", "entity_id": "e1", "role": "input"}
		if err := p.Insert(w, mustSource(t, repositories.SourceUsed), row); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		c := w.calls[0]
		if c.args != "Activity:a1-used->Entity:e1" {
			t.Errorf("unexpected edge %s", c.args)
		}
		if c.props["role"] != "input" {
			t.Errorf("expected role input, got %v", c.props)
		}
	})

	t.Run("edge insert without role has no props", func(t *testing.T) {
		w := newRecordingWriter()
		w.nodes["Activity:a1"] = true
		w.nodes["Entity:e1"] = true
		if err := p.Insert(w, mustSource(t, repositories.SourceUsed), Row{"activity_id": "a1", "entity_id": "e1"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if w.calls[0].props != nil {
			t.Errorf("expected nil props, got %v", w.calls[0].props)
		}
	})

	t.Run("edge insert with a missing endpoint fails", func(t *testing.T) {
		w := newRecordingWriter()
		w.nodes["Entity:e1"] = true
		err := p.Insert(w, mustSource(t, repositories.SourceWasGeneratedBy), Row{"entity_id": "e1", "activity_id": "a1"})
		if !errors.Is(err, repositories.ErrMirrorProjection) {
			t.Fatalf("expected ErrMirrorProjection, got %v", err)
		}
	})

	t.Run("malformed identifiers are rejected before writing", func(t *testing.T) {
		for _, id := range []string{"", "a$prov$b", "line\nbreak"} {
			w := newRecordingWriter()
			err := p.Insert(w, mustSource(t, repositories.SourceEntities), Row{"id": id})
			if !errors.Is(err, repositories.ErrMirrorProjection) {
				t.Errorf("id %q: expected ErrMirrorProjection, got %v", id, err)
			}
			if len(w.calls) != 0 {
				t.Errorf("id %q: expected no writes, got %+v", id, w.calls)
			}
		}
	})

	t.Run("writer failures are wrapped", func(t *testing.T) {
		w := newRecordingWriter()
		w.fail = errors.New("boom")
		err := p.Insert(w, mustSource(t, repositories.SourceAgents), Row{"id": "alice"})
		if !errors.Is(err, repositories.ErrMirrorProjection) {
			t.Fatalf("expected ErrMirrorProjection, got %v", err)
		}
	})
}

func TestProjector_Delete(t *testing.T) {
	var p Projector

	t.Run("node delete detaches", func(t *testing.T) {
		w := newRecordingWriter()
		if err := p.Delete(w, mustSource(t, repositories.SourceEntities), Row{"id": "e1"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if w.calls[0].op != "detach" || w.calls[0].args != "Entity:e1" {
			t.Errorf("unexpected calls %+v", w.calls)
		}
	})

	t.Run("role-less delete on a role source matches absent role", func(t *testing.T) {
		w := newRecordingWriter()
		row := Row{"activity_id": "a1", "agent_id": "alice"}
		if err := p.Delete(w, mustSource(t, repositories.SourceWasAssociatedWith), row); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		props := w.calls[0].props
		v, ok := props["role"]
		if !ok || v != nil {
			t.Errorf("expected role=nil, got %v", props)
		}
	})

	t.Run("delete on a source without roles passes no props", func(t *testing.T) {
		w := newRecordingWriter()
		row := Row{"informed_id": "a2", "informer_id": "a1"}
		if err := p.Delete(w, mustSource(t, repositories.SourceWasInformedBy), row); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if w.calls[0].args != "Activity:a2-wasInformedBy->Activity:a1" || w.calls[0].props != nil {
			t.Errorf("unexpected call %+v", w.calls[0])
		}
	})
}
