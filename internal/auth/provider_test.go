package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// mockTokenSource counts fetches and hands out scripted tokens.
type mockTokenSource struct {
	mu      sync.Mutex
	fetches int32
	token   Token
	err     error
	delay   time.Duration
}

func (m *mockTokenSource) FetchToken(ctx context.Context, tenant string) (Token, error) {
	atomic.AddInt32(&m.fetches, 1)
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return Token{}, m.err
	}
	return m.token, nil
}

func (m *mockTokenSource) fetchCount() int32 {
	return atomic.LoadInt32(&m.fetches)
}

func TestTokenCachedUntilBuffer(t *testing.T) {
	src := &mockTokenSource{token: Token{AccessToken: "tok-1", ExpiresAt: time.Now().Add(time.Hour)}}
	p := NewProvider(src, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		tok, err := p.Token(ctx, "acme")
		if err != nil {
			t.Fatalf("Token failed: %v", err)
		}
		if tok != "tok-1" {
			t.Errorf("Expected tok-1, got %q", tok)
		}
	}
	if src.fetchCount() != 1 {
		t.Errorf("Expected a single fetch for repeated calls, got %d", src.fetchCount())
	}
}

func TestTokenRefreshedInsideBuffer(t *testing.T) {
	// Token expires in 30s but the buffer is 60s: every call must refresh.
	src := &mockTokenSource{token: Token{AccessToken: "tok-1", ExpiresAt: time.Now().Add(30 * time.Second)}}
	p := NewProvider(src, time.Minute)
	ctx := context.Background()

	if _, err := p.Token(ctx, "acme"); err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if _, err := p.Token(ctx, "acme"); err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if src.fetchCount() != 2 {
		t.Errorf("Expected refresh on every call inside the buffer, got %d fetches", src.fetchCount())
	}
}

func TestConcurrentRefreshShared(t *testing.T) {
	src := &mockTokenSource{
		token: Token{AccessToken: "tok-1", ExpiresAt: time.Now().Add(time.Hour)},
		delay: 50 * time.Millisecond,
	}
	p := NewProvider(src, time.Minute)
	ctx := context.Background()

	const callers = 10
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := p.Token(ctx, "acme")
			if err != nil {
				errs <- err
				return
			}
			if tok != "tok-1" {
				errs <- fmt.Errorf("unexpected token %q", tok)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent Token call failed: %v", err)
	}
	if src.fetchCount() != 1 {
		t.Errorf("Expected one shared refresh for concurrent callers, got %d", src.fetchCount())
	}
}

func TestTokensCachedPerTenant(t *testing.T) {
	src := &mockTokenSource{token: Token{AccessToken: "tok-1", ExpiresAt: time.Now().Add(time.Hour)}}
	p := NewProvider(src, time.Minute)
	ctx := context.Background()

	if _, err := p.Token(ctx, "acme"); err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if _, err := p.Token(ctx, "globex"); err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if src.fetchCount() != 2 {
		t.Errorf("Expected one fetch per tenant, got %d", src.fetchCount())
	}
}

func TestFetchFailurePropagatesAsAuthError(t *testing.T) {
	src := &mockTokenSource{err: errors.New("identity endpoint down")}
	p := NewProvider(src, time.Minute)

	_, err := p.Token(context.Background(), "acme")
	if err == nil {
		t.Fatal("Expected error when fetch fails")
	}
	var authErr *Error
	if !errors.As(err, &authErr) {
		t.Errorf("Expected *auth.Error, got %T: %v", err, err)
	}
	if authErr.Tenant != "acme" {
		t.Errorf("Expected tenant acme in error, got %q", authErr.Tenant)
	}
}

func TestInvalidateForcesRefresh(t *testing.T) {
	src := &mockTokenSource{token: Token{AccessToken: "tok-1", ExpiresAt: time.Now().Add(time.Hour)}}
	p := NewProvider(src, time.Minute)
	ctx := context.Background()

	if _, err := p.Token(ctx, "acme"); err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	p.Invalidate("acme")
	if _, err := p.Token(ctx, "acme"); err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if src.fetchCount() != 2 {
		t.Errorf("Expected refresh after Invalidate, got %d fetches", src.fetchCount())
	}
}

func TestTokenFresh(t *testing.T) {
	now := time.Now()
	tok := Token{AccessToken: "tok", ExpiresAt: now.Add(2 * time.Minute)}
	if !tok.Fresh(now, time.Minute) {
		t.Error("Expected token outside buffer to be fresh")
	}
	if tok.Fresh(now, 3*time.Minute) {
		t.Error("Expected token inside buffer to be stale")
	}
	if (Token{}).Fresh(now, time.Minute) {
		t.Error("Expected empty token to be stale")
	}
}
