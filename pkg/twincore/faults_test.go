package twincore

import "testing"

const (
	accountsPath = "/api/data/v9.2/accounts"
	accountPath  = accountsPath + "(00000000-0000-0000-0000-000000000001)"
)

func TestFaultDefaults(t *testing.T) {
	fr := NewFaultRegistry()
	fr.Set(accountsPath, Fault{Status: 503, Method: "patch"})

	f := fr.All()[accountsPath]
	if f.Rate != 1 || f.Method != "PATCH" {
		t.Errorf("stored fault = %+v, want rate 1 and upper-case method", f)
	}
}

func TestFaultMatching(t *testing.T) {
	fr := NewFaultRegistry()
	fr.Set(accountsPath, Fault{Status: 500})
	fr.Set("/api/data/v9.2/contacts", Fault{Status: 429, Method: "POST"})
	fr.Set(accountsPath+"(abc)", Fault{Status: 412})

	tests := []struct {
		method, path string
		want         int
	}{
		{"GET", accountsPath, 500},
		{"DELETE", accountPath, 500},
		{"PATCH", accountsPath + "(abc)", 412},
		{"POST", "/api/data/v9.2/contacts", 429},
		{"GET", "/api/data/v9.2/contacts", 0},
		{"GET", "/api/data/v9.2/leads(abc)", 0},
	}
	for _, tt := range tests {
		f := fr.Check(tt.method, tt.path)
		got := 0
		if f != nil {
			got = f.Status
		}
		if got != tt.want {
			t.Errorf("Check(%s %s) status = %d, want %d", tt.method, tt.path, got, tt.want)
		}
	}
}

func TestFaultRecordKeyDoesNotCoverSet(t *testing.T) {
	fr := NewFaultRegistry()
	fr.Set(accountsPath+"(abc)", Fault{Status: 412})
	if fr.Check("GET", accountsPath) != nil {
		t.Error("record fault matched the collection")
	}
}

func TestFaultErrorCodes(t *testing.T) {
	tests := []struct {
		f    Fault
		want string
	}{
		{Fault{Status: 429}, "0x80072322"},
		{Fault{Status: 401}, "0x80048306"},
		{Fault{Status: 412}, "0x80060882"},
		{Fault{Status: 500}, "0x80040216"},
		{Fault{Status: 500, Code: "0x8004431A"}, "0x8004431A"},
	}
	for _, tt := range tests {
		if got := tt.f.errorCode(); got != tt.want {
			t.Errorf("errorCode(%+v) = %s, want %s", tt.f, got, tt.want)
		}
	}
}

func TestFaultRemoveAndReset(t *testing.T) {
	fr := NewFaultRegistry()
	fr.Set("/a", Fault{Status: 500})
	fr.Set("/b", Fault{Status: 500})

	if !fr.Remove("/a") || fr.Remove("/a") {
		t.Error("Remove should report true once")
	}
	if len(fr.All()) != 1 {
		t.Errorf("All() = %v", fr.All())
	}
	fr.Reset()
	if len(fr.All()) != 0 {
		t.Error("faults left after Reset")
	}
}
