package ai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAssistantClientThreadRunFlow(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/threads", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("OpenAI-Beta") != "assistants=v2" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"id":"thread_1"}`))
	})
	mux.HandleFunc("/threads/thread_1/runs", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":"run_1","thread_id":"thread_1","status":"queued"}`))
	})
	mux.HandleFunc("/threads/thread_1/runs/run_1", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":"run_1","thread_id":"thread_1","status":"completed"}`))
	})
	mux.HandleFunc("/threads/thread_1/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("order") != "desc" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"data":[
			{"role":"assistant","content":[{"type":"text","text":{"value":"Here is your plan."}}]},
			{"role":"user","content":[{"type":"text","text":{"value":"make a plan"}}]}
		]}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewAssistantClient(AssistantClientConfig{APIKey: "key", BaseURL: server.URL})
	ctx := context.Background()

	threadID, err := client.CreateThread(ctx, []Message{{Role: RoleUser, Content: "make a plan"}})
	if err != nil || threadID != "thread_1" {
		t.Fatalf("create thread: id=%q err=%v", threadID, err)
	}
	run, err := client.StartRun(ctx, threadID, "asst_1")
	if err != nil || run.Status != RunQueued {
		t.Fatalf("start run: %+v err=%v", run, err)
	}
	run, err = client.GetRun(ctx, threadID, run.ID)
	if err != nil || run.Status != RunCompleted {
		t.Fatalf("get run: %+v err=%v", run, err)
	}
	reply, err := client.LatestReply(ctx, threadID)
	if err != nil || reply != "Here is your plan." {
		t.Fatalf("latest reply: %q err=%v", reply, err)
	}
}

func TestAssistantClientRequiresAssistantID(t *testing.T) {
	client := NewAssistantClient(AssistantClientConfig{APIKey: "key", BaseURL: "http://127.0.0.1:1"})
	if _, err := client.StartRun(context.Background(), "thread_1", " "); err == nil {
		t.Fatalf("expected error for empty assistant id")
	}
}
