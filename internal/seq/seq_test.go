package seq

import "testing"

func TestSeqNoCmpWrap(t *testing.T) {
	cases := []struct {
		a, b SeqNo
		want int
	}{
		{10, 10, 0},
		{11, 10, 1},
		{10, 11, -1},
		{1, SeqNo(SeqNoMax - 1), 1},
		{SeqNo(SeqNoMax - 1), 1, -1},
	}
	for _, c := range cases {
		if got := c.a.Cmp(c.b); sign(got) != sign(c.want) {
			t.Errorf("SeqNo(%d).Cmp(%d) = %d, want sign %d", c.a, c.b, got, c.want)
		}
	}
}

func TestSeqNoIncrWraps(t *testing.T) {
	s := SeqNo(SeqNoMax - 1)
	if got := s.Incr(); got != 0 {
		t.Errorf("Incr() at max-1 = %d, want 0", got)
	}
}

func TestSeqNoDiff(t *testing.T) {
	if d := SeqNo(5).Diff(SeqNo(3)); d != 2 {
		t.Errorf("Diff = %d, want 2", d)
	}
	if d := SeqNo(1).Diff(SeqNo(SeqNoMax - 1)); d != 2 {
		t.Errorf("wrapped Diff = %d, want 2", d)
	}
}

func TestMsgNoCmpWrap(t *testing.T) {
	if MsgNo(1).Cmp(MsgNo(MsgNoMax-1)) <= 0 {
		t.Error("wrapped MsgNo comparison should treat 1 as after MsgNoMax-1")
	}
}

func sign(n int) int {
	switch {
	case n > 0:
		return 1
	case n < 0:
		return -1
	default:
		return 0
	}
}
