package tc_test

import (
	"os"
	"path/filepath"
	"testing"

	"tc-go/internal/tc"
	"tc-go/internal/testutil"
)

func newTestLog(t *testing.T) (*tc.MessageLog, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "messages.log")
	log, err := tc.NewMessageLog(path, testutil.FixedClock())
	if err != nil {
		t.Fatalf("NewMessageLog() error = %v", err)
	}
	return log, path
}

func TestMessageLog_Status(t *testing.T) {
	t.Run("empty log is nominal", func(t *testing.T) {
		t.Parallel()
		log, _ := newTestLog(t)
		if got := log.Status(); got != tc.StatusNominal {
			t.Errorf("Status() = %v, want Nominal", got)
		}
	})

	t.Run("new stuff raises the status", func(t *testing.T) {
		t.Parallel()
		log, _ := newTestLog(t)
		if err := log.WriteMessage(tc.MessageNewStuff, "Test.New", "A new book \"{0}\" arrived.", "moon", ""); err != nil {
			t.Fatalf("WriteMessage() error = %v", err)
		}
		if got := log.Status(); got != tc.StatusNewStuff {
			t.Errorf("Status() = %v, want NewStuff", got)
		}
	})

	t.Run("error outranks new stuff", func(t *testing.T) {
		t.Parallel()
		log, _ := newTestLog(t)
		log.WriteMessage(tc.MessageNewStuff, "Test.New", "new", "moon", "")
		log.WriteMessage(tc.MessageError, "Test.Err", "broke", "moon", "")
		if got := log.Status(); got != tc.StatusError {
			t.Errorf("Status() = %v, want Error", got)
		}
	})

	t.Run("clobber pending outranks error", func(t *testing.T) {
		t.Parallel()
		log, _ := newTestLog(t)
		log.WriteMessage(tc.MessageError, "Test.Err", "broke", "moon", "")
		log.WriteMessage(tc.MessageClobberPending, "Test.Clobber", "clobber", "moon", "")
		if got := log.Status(); got != tc.StatusClobberPending {
			t.Errorf("Status() = %v, want ClobberPending", got)
		}
	})

	t.Run("history messages do not change the status", func(t *testing.T) {
		t.Parallel()
		log, _ := newTestLog(t)
		log.WriteMessage(tc.MessageHistory, "Test.Hist", "something happened", "moon", "")
		if got := log.Status(); got != tc.StatusNominal {
			t.Errorf("Status() = %v, want Nominal", got)
		}
	})
}

func TestMessageLog_Milestones(t *testing.T) {
	t.Run("displaying the log resets errors but not new stuff", func(t *testing.T) {
		t.Parallel()
		log, _ := newTestLog(t)
		log.WriteMessage(tc.MessageNewStuff, "Test.New", "new", "moon", "")
		log.WriteMessage(tc.MessageError, "Test.Err", "broke", "sun", "")

		if err := log.WriteMilestone(tc.MilestoneLogDisplayed); err != nil {
			t.Fatalf("WriteMilestone() error = %v", err)
		}
		if got := log.Status(); got != tc.StatusNewStuff {
			t.Errorf("Status() after LogDisplayed = %v, want NewStuff", got)
		}
		if errs := log.CurrentErrors(); len(errs) != 0 {
			t.Errorf("CurrentErrors() = %d messages, want 0", len(errs))
		}
	})

	t.Run("reload resets everything except a later clobber", func(t *testing.T) {
		t.Parallel()
		log, _ := newTestLog(t)
		log.WriteMessage(tc.MessageNewStuff, "Test.New", "new", "moon", "")
		log.WriteMessage(tc.MessageError, "Test.Err", "broke", "sun", "")
		log.WriteMessage(tc.MessageClobberPending, "Test.Clobber", "clobber", "star", "")

		if err := log.WriteMilestone(tc.MilestoneReloaded); err != nil {
			t.Fatalf("WriteMilestone() error = %v", err)
		}
		if got := log.Status(); got != tc.StatusNominal {
			t.Errorf("Status() after Reloaded = %v, want Nominal", got)
		}
	})

	t.Run("showing the clobber clears the pending state", func(t *testing.T) {
		t.Parallel()
		log, _ := newTestLog(t)
		log.WriteMessage(tc.MessageClobberPending, "Test.Clobber", "clobber", "moon", "")

		if _, pending := log.CurrentClobberMessage(); !pending {
			t.Fatal("expected a pending clobber message")
		}
		if err := log.WriteMilestone(tc.MilestoneShowedClobbered); err != nil {
			t.Fatalf("WriteMilestone() error = %v", err)
		}
		if _, pending := log.CurrentClobberMessage(); pending {
			t.Error("clobber still pending after ShowedClobbered")
		}
	})
}

func TestMessageLog_NewStuffDedup(t *testing.T) {
	t.Parallel()
	log, _ := newTestLog(t)

	for i := 0; i < 3; i++ {
		if err := log.WriteMessage(tc.MessageNewStuff, "Test.New", "new book \"{0}\"", "moon", ""); err != nil {
			t.Fatalf("WriteMessage() error = %v", err)
		}
	}
	if got := len(log.CurrentNewStuff()); got != 1 {
		t.Errorf("CurrentNewStuff() = %d messages, want 1 (duplicates suppressed)", got)
	}

	// A different book is not a duplicate.
	log.WriteMessage(tc.MessageNewStuff, "Test.New", "new book \"{0}\"", "sun", "")
	if got := len(log.CurrentNewStuff()); got != 2 {
		t.Errorf("CurrentNewStuff() = %d messages, want 2", got)
	}

	// After a reload the same message may notify again.
	log.WriteMilestone(tc.MilestoneReloaded)
	log.WriteMessage(tc.MessageNewStuff, "Test.New", "new book \"{0}\"", "moon", "")
	if got := len(log.CurrentNewStuff()); got != 1 {
		t.Errorf("CurrentNewStuff() after reload = %d messages, want 1", got)
	}
}

func TestMessageLog_Persistence(t *testing.T) {
	t.Run("reopening rehydrates from the last reload milestone", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "messages.log")
		clock := testutil.FixedClock()

		log, err := tc.NewMessageLog(path, clock)
		if err != nil {
			t.Fatalf("NewMessageLog() error = %v", err)
		}
		log.WriteMessage(tc.MessageHistory, "Test.Old", "ancient history", "", "")
		log.WriteMilestone(tc.MilestoneReloaded)
		log.WriteMessage(tc.MessageError, "Test.Err", "recent error", "moon", "")

		reopened, err := tc.NewMessageLog(path, clock)
		if err != nil {
			t.Fatalf("NewMessageLog() reopen error = %v", err)
		}
		if got := reopened.Status(); got != tc.StatusError {
			t.Errorf("Status() after reopen = %v, want Error", got)
		}
		for _, m := range reopened.Messages() {
			if m.L10nID == "Test.Old" {
				t.Error("pre-reload message rehydrated into the current tail")
			}
		}

		all, err := reopened.LoadAll()
		if err != nil {
			t.Fatalf("LoadAll() error = %v", err)
		}
		if len(all) != 3 {
			t.Errorf("LoadAll() = %d messages, want 3", len(all))
		}
	})

	t.Run("skips unparseable lines", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "messages.log")
		content := "garbage line\n" +
			"2024-01-15T10:30:00Z\tError\tTest.Err\tbroke {0}\tmoon\t\n" +
			"not-a-date\tError\tx\ty\tz\t\n"
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}

		log, err := tc.NewMessageLog(path, testutil.FixedClock())
		if err != nil {
			t.Fatalf("NewMessageLog() error = %v", err)
		}
		msgs := log.Messages()
		if len(msgs) != 1 {
			t.Fatalf("Messages() = %d, want 1", len(msgs))
		}
		if msgs[0].Type != tc.MessageError || msgs[0].Param0 != "moon" {
			t.Errorf("parsed message = %+v", msgs[0])
		}
	})

	t.Run("tabs and newlines in fields are flattened", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "messages.log")
		clock := testutil.FixedClock()
		log, err := tc.NewMessageLog(path, clock)
		if err != nil {
			t.Fatal(err)
		}
		log.WriteMessage(tc.MessageError, "Test.Err", "broke {0}", "bad\tbook\nname", "")

		reopened, err := tc.NewMessageLog(path, clock)
		if err != nil {
			t.Fatal(err)
		}
		msgs := reopened.Messages()
		if len(msgs) != 1 {
			t.Fatalf("Messages() = %d, want 1", len(msgs))
		}
		if msgs[0].Param0 != "bad book name" {
			t.Errorf("Param0 = %q, want flattened field", msgs[0].Param0)
		}
	})
}

func TestMessageLog_Subscribe(t *testing.T) {
	t.Parallel()
	log, _ := newTestLog(t)

	var statuses []tc.CollectionStatus
	log.Subscribe(func(s tc.CollectionStatus) { statuses = append(statuses, s) })

	log.WriteMessage(tc.MessageNewStuff, "Test.New", "new", "moon", "")
	log.WriteMessage(tc.MessageNewStuff, "Test.New", "new", "moon", "") // duplicate, suppressed
	log.WriteMilestone(tc.MilestoneReloaded)

	want := []tc.CollectionStatus{tc.StatusNewStuff, tc.StatusNominal}
	if len(statuses) != len(want) {
		t.Fatalf("listener fired %d times, want %d", len(statuses), len(want))
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Errorf("notification %d = %v, want %v", i, statuses[i], want[i])
		}
	}
}

func TestMessage_Text(t *testing.T) {
	t.Parallel()
	m := tc.Message{
		Template: "The checkout of \"{0}\" by {1} was cleared.",
		Param0:   "moon",
		Param1:   "fred@example.com",
	}
	want := "The checkout of \"moon\" by fred@example.com was cleared."
	if got := m.Text(); got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
}
