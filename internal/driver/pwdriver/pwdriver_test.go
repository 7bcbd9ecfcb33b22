package pwdriver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kuitang/pageflow/internal/resolver"
)

func TestAwait_ReturnsOnCancel(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	began := time.Now()
	err := await(ctx, func() error {
		<-release
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if waited := time.Since(began); waited > time.Second {
		t.Fatalf("cancel took %v to take effect", waited)
	}

	boom := errors.New("boom")
	if err := await(context.Background(), func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
}

func TestTimeoutMS(t *testing.T) {
	t.Parallel()

	ms, err := timeoutMS(context.Background(), 2*time.Second)
	if err != nil || ms != 2000 {
		t.Fatalf("no deadline: %v, %v", ms, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	ms, err = timeoutMS(ctx, time.Second)
	if err != nil || ms <= 1000 || ms > 60000 {
		t.Fatalf("deadline should win over default: %v, %v", ms, err)
	}

	cancelled, stop := context.WithCancel(context.Background())
	stop()
	if _, err := timeoutMS(cancelled, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled ctx: %v", err)
	}
}

func TestSession_ResolvesAgainstLiveBrowser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body>
			<input type="tel" name="phone" maxlength="4">
			<button id="save" disabled>Save</button>
		</body></html>`))
	}))
	defer srv.Close()

	s, err := Launch(Config{Headless: true, Timeout: 5 * time.Second, ArtifactsDir: t.TempDir()})
	if err != nil {
		t.Skip("Playwright not available:", err)
	}
	defer func() { _, _ = s.Close() }()

	ctx := context.Background()
	if err := s.Goto(ctx, srv.URL); err != nil {
		t.Fatalf("goto: %v", err)
	}

	r := resolver.New(s, resolver.WithCandidateTimeout(500*time.Millisecond), resolver.WithKeyDelay(0))
	res := r.Resolve(ctx, resolver.Candidates("#phone", "input[type=tel]"))
	if !res.OK() || res.Candidate.Selector != "input[type=tel]" {
		t.Fatalf("resolve: %s", res.Message())
	}

	out := r.PerformAction(ctx, resolver.Candidates("input[type=tel]"), resolver.Fill, "123456",
		resolver.WithVerification(resolver.Exact))
	if out.OK() {
		t.Fatalf("maxlength should defeat exact verification: %s", out.Message())
	}

	out = r.PerformAction(ctx, resolver.Candidates("#save"), resolver.Click, "")
	if out.Status != resolver.StatusActionFailed {
		t.Fatalf("disabled click: %s", out.Message())
	}
}
