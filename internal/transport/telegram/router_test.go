package telegram

import "testing"

func TestParseGroupRef(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"eastwind", "eastwind"},
		{"  eastwind  ", "eastwind"},
		{"https://vk.com/eastwind", "eastwind"},
		{"https://vk.com/eastwind/", "eastwind"},
		{"http://m.vk.com/eastwind", "eastwind"},
		{"vk.com/eastwind", "eastwind"},
		{"https://vk.com/eastwind?w=wall-123_45", "eastwind"},
		{"https://vk.com/wall-123_45", "wall-123_45"},
		{"vk.com/club123", "club123"},
	}
	for _, tc := range cases {
		if got := parseGroupRef(tc.in); got != tc.want {
			t.Errorf("parseGroupRef(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestWallRefExtractsNumericID(t *testing.T) {
	m := wallRef.FindStringSubmatch("wall-123_45")
	if m == nil || m[1] != "123" {
		t.Fatalf("match = %v", m)
	}
	if wallRef.FindStringSubmatch("eastwind") != nil {
		t.Fatal("plain short name must not match")
	}
}

func TestSessionExpiry(t *testing.T) {
	s := newSessions()
	s.set(7, session{st: stateAwaitAdd})
	if ses := s.get(7); ses.st != stateAwaitAdd {
		t.Fatalf("state = %v", ses.st)
	}
	s.clear(7)
	if ses := s.get(7); ses.st != stateIdle {
		t.Fatalf("state after clear = %v, want idle", ses.st)
	}
}
