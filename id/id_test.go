package id

import (
	"encoding/json"
	"testing"
)

func TestNewGeneratesPrefixed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		gen    func() ID
		prefix Prefix
	}{
		{"job", NewJobID, PrefixJob},
		{"contractor", NewContractorID, PrefixContractor},
		{"landlord", NewLandlordID, PrefixLandlord},
		{"tenant", NewTenantID, PrefixTenant},
		{"progress", NewProgressID, PrefixProgress},
		{"media", NewMediaID, PrefixMedia},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.gen()
			if got.IsNil() {
				t.Fatal("generated ID is nil")
			}
			if got.Prefix() != tt.prefix {
				t.Fatalf("got prefix %q, want %q", got.Prefix(), tt.prefix)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	t.Parallel()

	original := NewJobID()
	parsed, err := Parse(original.String())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.String() != original.String() {
		t.Fatalf("round trip mismatch: got %q, want %q", parsed.String(), original.String())
	}
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{"empty string", ""},
		{"garbage", "not-a-typeid!!"},
		{"bad suffix", "job_zzzz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.input); err == nil {
				t.Fatalf("Parse(%q) succeeded, want error", tt.input)
			}
		})
	}
}

func TestParseWithPrefix(t *testing.T) {
	t.Parallel()

	jobID := NewJobID()

	if _, err := ParseJobID(jobID.String()); err != nil {
		t.Fatalf("ParseJobID: %v", err)
	}
	if _, err := ParseContractorID(jobID.String()); err == nil {
		t.Fatal("ParseContractorID accepted a job ID")
	}
}

func TestNilID(t *testing.T) {
	t.Parallel()

	if !Nil.IsNil() {
		t.Fatal("Nil.IsNil() = false")
	}
	if Nil.String() != "" {
		t.Fatalf("Nil.String() = %q, want empty", Nil.String())
	}
	if Nil.Prefix() != "" {
		t.Fatalf("Nil.Prefix() = %q, want empty", Nil.Prefix())
	}
}

func TestJSONRoundTrip(t *testing.T) {
	t.Parallel()

	type holder struct {
		Job        ID `json:"job"`
		Contractor ID `json:"contractor,omitempty"`
	}

	h := holder{Job: NewJobID()}
	data, err := json.Marshal(h)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got holder
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Job.String() != h.Job.String() {
		t.Fatalf("job mismatch: got %q, want %q", got.Job.String(), h.Job.String())
	}
	if !got.Contractor.IsNil() {
		t.Fatalf("empty contractor unmarshalled to %q, want Nil", got.Contractor.String())
	}
}

func TestSQLValueAndScan(t *testing.T) {
	t.Parallel()

	original := NewContractorID()

	v, err := original.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}

	var scanned ID
	if err := scanned.Scan(v); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if scanned.String() != original.String() {
		t.Fatalf("scan mismatch: got %q, want %q", scanned.String(), original.String())
	}

	// NULL column scans to Nil.
	var null ID
	if err := null.Scan(nil); err != nil {
		t.Fatalf("Scan(nil): %v", err)
	}
	if !null.IsNil() {
		t.Fatal("Scan(nil) produced a non-nil ID")
	}

	// Nil ID stores as SQL NULL.
	nv, err := Nil.Value()
	if err != nil {
		t.Fatalf("Nil.Value: %v", err)
	}
	if nv != nil {
		t.Fatalf("Nil.Value() = %v, want nil", nv)
	}
}

func TestKSortable(t *testing.T) {
	t.Parallel()

	// UUIDv7 IDs generated in sequence sort lexicographically.
	a := NewJobID().String()
	b := NewJobID().String()
	if a > b {
		t.Fatalf("IDs not K-sortable: %q > %q", a, b)
	}
}
