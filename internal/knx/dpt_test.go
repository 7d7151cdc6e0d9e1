package knx

import (
	"errors"
	"testing"
)

func TestParseDPT(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"DPST-1-1", "1.001", false},
		{"DPST-9-1", "9.001", false},
		{"DPT-9", "9", false},
		{"dpst-5-1", "5.001", false},
		{"DPST-1", "", true},
		{"DPT-x", "", true},
		{"", "", true},
		{"1.001", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDPT(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDPT(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidDPT) {
					t.Errorf("error = %v, want ErrInvalidDPT", err)
				}
				return
			}
			if got.String() != tt.want {
				t.Errorf("ParseDPT(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseDPTList(t *testing.T) {
	got := ParseDPTList("DPST-1-1 bogus DPT-9")
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].String() != "1.001" {
		t.Errorf("got[0] = %s, want 1.001", got[0])
	}
	if got[1].String() != "9" || got[1].Sub != nil {
		t.Errorf("got[1] = %s, want 9", got[1])
	}

	if got := ParseDPTList(""); len(got) != 0 {
		t.Errorf("ParseDPTList(\"\") = %v, want empty", got)
	}
}
