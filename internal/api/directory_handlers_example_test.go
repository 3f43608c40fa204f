package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"go.uber.org/zap"

	"github.com/presslane/edition-courier/internal/courier"
	"github.com/presslane/edition-courier/internal/store/memory"
)

type exampleClock struct{}

func (exampleClock) Now() time.Time { return time.Unix(0, 0) }

// ExampleDirectoryHandler_ListPublications shows how to serve the
// /v1/publications endpoint.
func ExampleDirectoryHandler_ListPublications() {
	dir := memory.NewDirectory()
	_ = dir.UpsertPublication(context.Background(), courier.Publication{
		ID:          "gazette",
		Name:        "The Weekly Gazette",
		Active:      true,
		MailEnabled: true,
	})
	handler := NewDirectoryHandler(dir, exampleClock{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/v1/publications", nil)
	rec := httptest.NewRecorder()
	handler.ListPublications(rec, req)

	var payload struct {
		Publications []map[string]any `json:"publications"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		panic(err)
	}
	fmt.Printf("returned publications: %d\n", len(payload.Publications))
	// Output:
	// returned publications: 1
}
