package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenAIClient_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var payload struct {
			Model    string `json:"model"`
			Stream   bool   `json:"stream"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Equal(t, "test-model", payload.Model)
		require.False(t, payload.Stream)
		require.Len(t, payload.Messages, 2)

		fmt.Fprint(w, `{"choices":[{"message":{"content":"hello there"}}]}`)
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL+"/v1", nil)
	text, err := c.Chat(context.Background(), []Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hi"},
	}, Options{ModelID: "test-model", APIKey: "sk-test"})
	require.NoError(t, err)
	require.Equal(t, "hello there", text)
}

func TestOpenAIClient_Stream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL, nil)
	var got []string
	err := c.Stream(context.Background(), []Message{{Role: "user", Content: "hi"}},
		Options{ModelID: "m"}, func(chunk string) error {
			got = append(got, chunk)
			return nil
		})
	require.NoError(t, err)
	require.Equal(t, []string{"Hel", "lo"}, got)
}

func TestOpenAIClient_StreamAbortedByCallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 100; i++ {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":\"chunk%d\"}}]}\n\n", i)
		}
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL, nil)
	count := 0
	err := c.Stream(context.Background(), []Message{{Role: "user", Content: "hi"}},
		Options{ModelID: "m"}, func(chunk string) error {
			count++
			if count == 3 {
				return fmt.Errorf("stop now")
			}
			return nil
		})
	require.EqualError(t, err, "stop now")
	require.Equal(t, 3, count)
}

func TestOpenAIClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL, nil)
	_, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, Options{ModelID: "m"})
	require.ErrorContains(t, err, "status 401")
}
