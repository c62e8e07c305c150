package id_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/xraph/unmark/id"
)

func TestMintAndParseByKind(t *testing.T) {
	tests := []struct {
		prefix id.Prefix
		mint   func() id.ID
		parse  func(string) (id.ID, error)
	}{
		{id.PrefixJob, id.NewJobID, id.ParseJobID},
		{id.PrefixDLQ, id.NewDLQID, id.ParseDLQID},
		{id.PrefixWorker, id.NewWorkerID, id.ParseWorkerID},
		{id.PrefixLedger, id.NewLedgerID, func(s string) (id.ID, error) { return id.ParseAs(id.PrefixLedger, s) }},
	}
	for _, tt := range tests {
		t.Run(string(tt.prefix), func(t *testing.T) {
			minted := tt.mint()
			if minted.Prefix() != tt.prefix || !strings.HasPrefix(minted.String(), string(tt.prefix)+"_") {
				t.Fatalf("minted %q under prefix %q", minted, minted.Prefix())
			}
			back, err := tt.parse(minted.String())
			if err != nil || back.String() != minted.String() {
				t.Fatalf("parse(%q) = %q, %v", minted, back, err)
			}
		})
	}
}

func TestParseRejects(t *testing.T) {
	for _, s := range []string{"", "task_42", "job_", "job_not-base32"} {
		if got, err := id.Parse(s); err == nil {
			t.Errorf("Parse(%q) = %q, want error", s, got)
		}
	}
	if _, err := id.ParseJobID(id.NewDLQID().String()); err == nil {
		t.Error("a dead letter id parsed as a job id")
	}
	if _, err := id.ParseDLQID(id.NewWorkerID().String()); err == nil {
		t.Error("a worker id parsed as a dead letter id")
	}
}

func TestNilEncodesEmpty(t *testing.T) {
	var zero id.ID
	if !zero.IsNil() || !id.Nil.IsNil() || zero.String() != "" || zero.Prefix() != "" {
		t.Fatalf("zero ID = %+v", zero)
	}
	if v, err := zero.Value(); v != nil || err != nil {
		t.Errorf("Value() = %v, %v; want NULL", v, err)
	}

	var holder struct {
		WorkerID id.WorkerID `json:"worker_id"`
	}
	raw, _ := json.Marshal(holder)
	if string(raw) != `{"worker_id":""}` {
		t.Errorf("json = %s", raw)
	}
	holder.WorkerID = id.NewWorkerID()
	if err := json.Unmarshal(raw, &holder); err != nil || !holder.WorkerID.IsNil() {
		t.Errorf("decoding \"\" = %q, %v; want Nil", holder.WorkerID, err)
	}
}

func TestJSONCarriesID(t *testing.T) {
	in := struct {
		JobID id.JobID `json:"job_id"`
	}{JobID: id.NewJobID()}
	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	var out struct {
		JobID id.JobID `json:"job_id"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatal(err)
	}
	if out.JobID.String() != in.JobID.String() {
		t.Errorf("decoded %q, want %q", out.JobID, in.JobID)
	}
}

func TestScanColumns(t *testing.T) {
	want := id.NewLedgerID()
	for _, src := range []any{want.String(), []byte(want.String())} {
		var got id.ID
		if err := got.Scan(src); err != nil || got.String() != want.String() {
			t.Errorf("Scan(%T) = %q, %v", src, got, err)
		}
	}

	got := id.NewJobID()
	if err := got.Scan(nil); err != nil || !got.IsNil() {
		t.Errorf("Scan(NULL) = %q, %v; want Nil", got, err)
	}
	if err := got.Scan(int64(7)); err == nil {
		t.Error("Scan(int64) succeeded")
	}
}
