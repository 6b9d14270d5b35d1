package codeforces

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

var testNow = time.Unix(1_700_000_000, 0)

type judgeServer struct {
	hits    atomic.Int32
	handler http.HandlerFunc
	srv     *httptest.Server
}

func newJudgeServer(t *testing.T, handler http.HandlerFunc) *judgeServer {
	t.Helper()
	js := &judgeServer{handler: handler}
	js.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		js.hits.Add(1)
		js.handler(w, r)
	}))
	t.Cleanup(js.srv.Close)
	return js
}

func newTestClient(baseURL string, maxRetries int) *Client {
	c := New(Options{
		BaseURL:    baseURL,
		MaxRetries: maxRetries,
		RetryDelay: 0,
		Timeout:    2 * time.Second,
	})
	c.now = func() time.Time { return testNow }
	return c
}

func writeJSON(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprint(w, body)
}

func TestFetchRecentAccepted_FiltersVerdictAndWindow(t *testing.T) {
	recent := testNow.Add(-5 * time.Minute).Unix()
	old := testNow.Add(-31 * time.Minute).Unix()

	js := newJudgeServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/user.status" {
			t.Errorf("path = %s, want /user.status", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("handle") != "kira" || q.Get("from") != "1" || q.Get("count") != "10" {
			t.Errorf("unexpected query %v", q)
		}
		writeJSON(w, http.StatusOK, fmt.Sprintf(`{"status":"OK","result":[
			{"id":1,"contestId":1500,"creationTimeSeconds":%d,"verdict":"OK",
			 "problem":{"contestId":1500,"index":"A","rating":1500},"author":{"members":[{"handle":"kira"}]}},
			{"id":2,"contestId":1500,"creationTimeSeconds":%d,"verdict":"WRONG_ANSWER",
			 "problem":{"contestId":1500,"index":"B"},"author":{"members":[{"handle":"kira"}]}},
			{"id":3,"contestId":1400,"creationTimeSeconds":%d,"verdict":"OK",
			 "problem":{"contestId":1400,"index":"C"},"author":{"members":[{"handle":"kira"}]}}
		]}`, recent, recent, old))
	})

	subs, err := newTestClient(js.srv.URL, 3).FetchRecentAccepted(context.Background(), "kira")
	if err != nil {
		t.Fatalf("FetchRecentAccepted: %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("got %d submissions, want 1", len(subs))
	}
	sub := subs[0]
	if sub.ID != 1 || sub.Problem.Index != "A" || sub.Problem.Rating == nil || *sub.Problem.Rating != 1500 {
		t.Errorf("unexpected submission %+v", sub)
	}
	if got := sub.CreationTime(); !got.Equal(time.Unix(recent, 0)) || got.Location() != time.UTC {
		t.Errorf("CreationTime = %v, want %v UTC", got, time.Unix(recent, 0))
	}
	if js.hits.Load() != 1 {
		t.Errorf("hits = %d, want 1", js.hits.Load())
	}
}

func TestFetchRecentAccepted_NotFoundIsNotRetried(t *testing.T) {
	tests := []struct {
		name string
		code int
	}{
		{name: "http 400", code: http.StatusBadRequest},
		{name: "http 200", code: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			js := newJudgeServer(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.code, `{"status":"FAILED","comment":"handle: User with handle ghost not found"}`)
			})

			_, err := newTestClient(js.srv.URL, 3).FetchRecentAccepted(context.Background(), "ghost")
			if !errors.Is(err, ErrAccountNotFound) {
				t.Fatalf("err = %v, want ErrAccountNotFound", err)
			}
			if errors.Is(err, ErrAPIUnavailable) {
				t.Error("not-found error must not also be ErrAPIUnavailable")
			}
			if js.hits.Load() != 1 {
				t.Errorf("hits = %d, want 1", js.hits.Load())
			}
		})
	}
}

func TestFetchRecentAccepted_OtherFailedStatusIsEmpty(t *testing.T) {
	js := newJudgeServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"status":"FAILED","comment":"Call limit exceeded"}`)
	})

	subs, err := newTestClient(js.srv.URL, 3).FetchRecentAccepted(context.Background(), "kira")
	if err != nil {
		t.Fatalf("FetchRecentAccepted: %v", err)
	}
	if len(subs) != 0 {
		t.Errorf("got %d submissions, want 0", len(subs))
	}
	if js.hits.Load() != 1 {
		t.Errorf("hits = %d, want 1", js.hits.Load())
	}
}

func TestFetchRecentAccepted_RetryBound(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, `{"status":`)
			},
		},
		{
			name: "empty body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			js := newJudgeServer(t, tt.handler)

			_, err := newTestClient(js.srv.URL, 3).FetchRecentAccepted(context.Background(), "kira")
			if !errors.Is(err, ErrAPIUnavailable) {
				t.Fatalf("err = %v, want ErrAPIUnavailable", err)
			}
			if js.hits.Load() != 3 {
				t.Errorf("hits = %d, want exactly 3", js.hits.Load())
			}
		})
	}
}

func TestFetchRecentAccepted_NetworkErrorRetried(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newTestClient(url, 2).FetchRecentAccepted(context.Background(), "kira")
	if !errors.Is(err, ErrAPIUnavailable) {
		t.Fatalf("err = %v, want ErrAPIUnavailable", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Cause == nil {
		t.Fatalf("err = %#v, want *APIError with a cause", err)
	}
}

func TestFetchRecentAccepted_RecoversAfterTransientFailure(t *testing.T) {
	var calls atomic.Int32
	js := newJudgeServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, `{"status":"OK","result":[]}`)
	})

	subs, err := newTestClient(js.srv.URL, 3).FetchRecentAccepted(context.Background(), "kira")
	if err != nil {
		t.Fatalf("FetchRecentAccepted: %v", err)
	}
	if len(subs) != 0 {
		t.Errorf("got %d submissions, want 0", len(subs))
	}
	if js.hits.Load() != 2 {
		t.Errorf("hits = %d, want 2", js.hits.Load())
	}
}

func TestFetchRecentAccepted_ClientErrorNotRetried(t *testing.T) {
	js := newJudgeServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, `{"status":"FAILED","comment":"count: Field should contain only digits"}`)
	})

	_, err := newTestClient(js.srv.URL, 3).FetchRecentAccepted(context.Background(), "kira")
	if !errors.Is(err, ErrAPIUnavailable) {
		t.Fatalf("err = %v, want ErrAPIUnavailable", err)
	}
	if js.hits.Load() != 1 {
		t.Errorf("hits = %d, want 1", js.hits.Load())
	}
}

func TestFetchRecentAccepted_InterruptedDuringBackoff(t *testing.T) {
	js := newJudgeServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	c := newTestClient(js.srv.URL, 5)
	c.opts.RetryDelay = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for js.hits.Load() == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	done := make(chan error, 1)
	go func() {
		_, err := c.FetchRecentAccepted(ctx, "kira")
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, ErrInterrupted) {
			t.Fatalf("err = %v, want ErrInterrupted", err)
		}
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want to wrap context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("FetchRecentAccepted did not return after cancellation")
	}

	if js.hits.Load() != 1 {
		t.Errorf("hits = %d, want 1", js.hits.Load())
	}
}

func TestAPIError_Reason(t *testing.T) {
	err := &APIError{Handle: "kira", Kind: ErrAPIUnavailable, Cause: errors.New("boom")}
	if err.Reason() != "boom" {
		t.Errorf("Reason = %q, want boom", err.Reason())
	}
	if err.Error() != "kira: judge api unavailable: boom" {
		t.Errorf("Error = %q", err.Error())
	}
}
