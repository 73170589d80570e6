package trip

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{"pending to accepted", StatusPending, StatusAccepted, true},
		{"pending to cancelled", StatusPending, StatusCancelled, true},
		{"pending to expired", StatusPending, StatusExpired, true},
		{"pending to ongoing skips accept", StatusPending, StatusOngoing, false},
		{"accepted to ongoing", StatusAccepted, StatusOngoing, true},
		{"accepted to cancelled", StatusAccepted, StatusCancelled, true},
		{"accepted to completed skips ongoing", StatusAccepted, StatusCompleted, false},
		{"ongoing to completed", StatusOngoing, StatusCompleted, true},
		{"ongoing to cancelled", StatusOngoing, StatusCancelled, true},
		{"cancelled to returning", StatusCancelled, StatusReturning, true},
		{"returning to returned", StatusReturning, StatusReturned, true},
		{"completed is final", StatusCompleted, StatusCancelled, false},
		{"expired is final", StatusExpired, StatusAccepted, false},
		{"returned is final", StatusReturned, StatusReturning, false},
		{"expired cannot be accepted", StatusExpired, StatusAccepted, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanTransition(tc.from, tc.to); got != tc.want {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusCancelled, StatusExpired, StatusReturned}
	for _, s := range terminal {
		if !IsTerminal(s) {
			t.Errorf("IsTerminal(%s) = false, want true", s)
		}
	}
	live := []Status{StatusPending, StatusAccepted, StatusOngoing, StatusReturning}
	for _, s := range live {
		if IsTerminal(s) {
			t.Errorf("IsTerminal(%s) = true, want false", s)
		}
	}
}
