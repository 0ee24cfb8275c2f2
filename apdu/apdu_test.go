package apdu

import (
	"bytes"
	"testing"
)

func TestBuild_Cases(t *testing.T) {
	tests := []struct {
		name string
		cla, ins, p1, p2 byte
		data []byte
		le   *int
		want []byte
		case_ Case
	}{
		{"case1", 0x00, 0xA4, 0x04, 0x00, nil, nil, []byte{0x00, 0xA4, 0x04, 0x00}, Case1},
		{"case2", 0x00, 0xB2, 0x01, 0x1C, nil, intp(0x00), []byte{0x00, 0xB2, 0x01, 0x1C, 0x00}, Case2},
		{"case3", 0x00, 0xDC, 0x01, 0x04, []byte{0xAB, 0xAB}, nil, []byte{0x00, 0xDC, 0x01, 0x04, 0x02, 0xAB, 0xAB}, Case3},
		{"case4", 0x00, 0x20, 0x00, 0x00, []byte{0x31, 0x32}, intp(0x00), []byte{0x00, 0x20, 0x00, 0x00, 0x02, 0x31, 0x32, 0x00}, Case4},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Build(tc.cla, tc.ins, tc.p1, tc.p2, tc.data, tc.le)
			if !bytes.Equal(got.Bytes, tc.want) {
				t.Errorf("Build() bytes = % X, want % X", got.Bytes, tc.want)
			}
			if got.Case != tc.case_ {
				t.Errorf("Build() case = %v, want %v", got.Case, tc.case_)
			}
		})
	}
}

func TestStripLeIfCase4(t *testing.T) {
	req := Build(0x00, 0x20, 0x00, 0x00, []byte{0x31, 0x32}, intp(0x00))
	stripped := req.StripLeIfCase4()
	want := []byte{0x00, 0x20, 0x00, 0x00, 0x02, 0x31, 0x32}
	if !bytes.Equal(stripped, want) {
		t.Errorf("StripLeIfCase4() = % X, want % X", stripped, want)
	}

	req3 := Build(0x00, 0xDC, 0x01, 0x04, []byte{0xAB}, nil)
	if !bytes.Equal(req3.StripLeIfCase4(), req3.Bytes) {
		t.Errorf("case3 StripLeIfCase4() should be a no-op")
	}
}

func TestParseResponse(t *testing.T) {
	resp, err := ParseResponse([]byte{0x01, 0x02, 0x90, 0x00})
	if err != nil {
		t.Fatalf("ParseResponse() error = %v", err)
	}
	if !bytes.Equal(resp.Data, []byte{0x01, 0x02}) {
		t.Errorf("Data = % X, want 01 02", resp.Data)
	}
	if resp.SW != 0x9000 {
		t.Errorf("SW = %04X, want 9000", resp.SW)
	}
	if !IsSuccess(resp.SW) {
		t.Errorf("IsSuccess() = false, want true")
	}
}

func TestParseResponse_TooShort(t *testing.T) {
	if _, err := ParseResponse([]byte{0x00}); err == nil {
		t.Errorf("ParseResponse() expected error on short response")
	}
}

func intp(v int) *int { return &v }
