package sync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	stdsync "sync"
	"testing"

	"github.com/tidwall/gjson"
)

// memLogStore keeps audit entries in memory for assertions.
type memLogStore struct {
	mu         stdsync.Mutex
	entries    []Entry
	appendErr  error
	ensured    bool
	truncated  bool
	appendSeen int
}

func (m *memLogStore) Append(ctx context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendSeen++
	if m.appendErr != nil {
		return m.appendErr
	}
	e.ID = int64(len(m.entries) + 1)
	m.entries = append(m.entries, e)
	return nil
}

func (m *memLogStore) List(ctx context.Context, page, perPage int) ([]Entry, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]Entry, len(m.entries))
	copy(result, m.entries)
	return result, int64(len(result)), nil
}

func (m *memLogStore) Ensure(ctx context.Context) error {
	m.ensured = true
	return nil
}

func (m *memLogStore) Truncate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.truncated = true
	m.entries = nil
	return nil
}

func (m *memLogStore) actions() []Action {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]Action, 0, len(m.entries))
	for _, e := range m.entries {
		result = append(result, e.Action)
	}
	return result
}

func (m *memLogStore) find(action Action) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.Action == action {
			return e, true
		}
	}
	return Entry{}, false
}

// memUserStore is an in-memory UserStore with set-once recipient semantics.
type memUserStore struct {
	mu         stdsync.Mutex
	users      map[int64]UserRecord
	recipients map[int64]string
	setErr     error
}

func newMemUserStore(users ...UserRecord) *memUserStore {
	m := &memUserStore{
		users:      map[int64]UserRecord{},
		recipients: map[int64]string{},
	}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *memUserStore) User(ctx context.Context, userID int64) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return UserRecord{}, ErrNoSuchUser
	}
	return u, nil
}

func (m *memUserStore) RecipientID(ctx context.Context, userID int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recipients[userID], nil
}

func (m *memUserStore) SetRecipientID(ctx context.Context, userID int64, recipientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	if m.recipients[userID] != "" {
		return nil
	}
	m.recipients[userID] = recipientID
	return nil
}

func equalActions(have, want []Action) bool {
	if len(have) != len(want) {
		return false
	}
	for i := range want {
		if have[i] != want[i] {
			return false
		}
	}
	return true
}

func newTestSyncer(endpoint string, users *memUserStore, logs *memLogStore) *Syncer {
	configs := StaticConfigSource{Config: testConfig(endpoint)}
	return NewSyncer(configs, users, NewRecorder(logs, nil), Client{}, nil)
}

func TestOnUserRegistered_Success(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"recipientID":"R1"}`))
	}))
	defer server.Close()

	users := newMemUserStore(testUser)
	logs := &memLogStore{}
	syncer := newTestSyncer(server.URL, users, logs)

	syncer.OnUserRegistered(context.Background(), testUser.ID)

	if calls != 1 {
		t.Errorf("Expected one remote call but have: %d", calls)
	}
	recipientID, _ := users.RecipientID(context.Background(), testUser.ID)
	if recipientID != "R1" {
		t.Errorf("Expected persisted recipient id: R1 but have: %s", recipientID)
	}

	want := []Action{
		ActionSyncStart,
		ActionConfigCheck,
		ActionAPIRequest,
		ActionRawResponse,
		ActionAPIResponseDetails,
		ActionSyncSuccess,
	}
	if have := logs.actions(); !equalActions(have, want) {
		t.Errorf("Expected actions %v but have: %v", want, have)
	}

	success, _ := logs.find(ActionSyncSuccess)
	if success.ResponseData != `{"recipientID":"R1"}` {
		t.Errorf("Expected the raw response body on the success entry but have: %s", success.ResponseData)
	}
	if syncer.Gate.InFlight() {
		t.Error("Expected the gate to be released after the run")
	}
}

func TestOnUserRegistered_AlreadySynced(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"recipientID":"R2"}`))
	}))
	defer server.Close()

	users := newMemUserStore(testUser)
	users.recipients[testUser.ID] = "R1"
	logs := &memLogStore{}
	syncer := newTestSyncer(server.URL, users, logs)

	syncer.OnUserRegistered(context.Background(), testUser.ID)

	if calls != 0 {
		t.Errorf("Expected no remote call for a synced user but have: %d", calls)
	}
	skipped, ok := logs.find(ActionSyncSkipped)
	if !ok {
		t.Fatal("Expected a SYNC_SKIPPED entry but have none")
	}
	if skipped.Status != StatusSkipped {
		t.Errorf("Expected status: SKIPPED but have: %s", skipped.Status)
	}
	if reason := gjson.Get(skipped.RequestData, "reason").String(); reason != ReasonAlreadySynced {
		t.Errorf("Expected reason: %s but have: %s", ReasonAlreadySynced, reason)
	}
	if rid := gjson.Get(skipped.RequestData, "recipient_id").String(); rid != "R1" {
		t.Errorf("Expected recipient_id: R1 but have: %s", rid)
	}
}

func TestOnUserRegistered_AtMostOnceAcrossRepeats(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(fmt.Sprintf(`{"recipientID":"R%d"}`, calls)))
	}))
	defer server.Close()

	users := newMemUserStore(testUser)
	logs := &memLogStore{}
	syncer := newTestSyncer(server.URL, users, logs)

	for i := 0; i < 3; i++ {
		syncer.OnUserRegistered(context.Background(), testUser.ID)
	}

	if calls != 1 {
		t.Errorf("Expected exactly one remote call across repeats but have: %d", calls)
	}
	recipientID, _ := users.RecipientID(context.Background(), testUser.ID)
	if recipientID != "R1" {
		t.Errorf("Expected the first recipient id to stick but have: %s", recipientID)
	}
}

func TestOnUserRegistered_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	users := newMemUserStore(testUser)
	logs := &memLogStore{}
	syncer := newTestSyncer(server.URL, users, logs)

	syncer.OnUserRegistered(context.Background(), testUser.ID)

	recipientID, _ := users.RecipientID(context.Background(), testUser.ID)
	if recipientID != "" {
		t.Errorf("Expected no recipient id after an API error but have: %s", recipientID)
	}

	want := []Action{
		ActionSyncStart,
		ActionConfigCheck,
		ActionAPIRequest,
		ActionRawResponse,
		ActionAPIResponseDetails,
		ActionAPIError,
	}
	if have := logs.actions(); !equalActions(have, want) {
		t.Errorf("Expected actions %v but have: %v", want, have)
	}

	apiErr, _ := logs.find(ActionAPIError)
	if apiErr.Status != StatusError {
		t.Errorf("Expected status: ERROR but have: %s", apiErr.Status)
	}
	if apiErr.ResponseData != `{}` {
		t.Errorf("Expected the response body on the error entry but have: %s", apiErr.ResponseData)
	}
}

func TestOnUserRegistered_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	users := newMemUserStore(testUser)
	logs := &memLogStore{}
	syncer := newTestSyncer(server.URL, users, logs)

	syncer.OnUserRegistered(context.Background(), testUser.ID)

	want := []Action{
		ActionSyncStart,
		ActionConfigCheck,
		ActionAPIRequest,
		ActionRawResponse,
		ActionAPIError,
	}
	if have := logs.actions(); !equalActions(have, want) {
		t.Errorf("Expected actions %v but have: %v", want, have)
	}
	raw, _ := logs.find(ActionRawResponse)
	if !gjson.Get(raw.RequestData, "transport_error").Bool() {
		t.Errorf("Expected transport_error: true but have: %s", raw.RequestData)
	}
}

func TestOnUserRegistered_IncompleteConfiguration(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer server.Close()

	users := newMemUserStore(testUser)
	logs := &memLogStore{}
	syncer := NewSyncer(
		StaticConfigSource{Config: Config{Endpoint: server.URL, AccessToken: "T1"}},
		users, NewRecorder(logs, nil), Client{}, nil)

	syncer.OnUserRegistered(context.Background(), testUser.ID)

	if calls != 0 {
		t.Errorf("Expected no remote call without field mappings but have: %d", calls)
	}
	want := []Action{
		ActionSyncStart,
		ActionConfigCheck,
		ActionSyncError,
	}
	if have := logs.actions(); !equalActions(have, want) {
		t.Errorf("Expected actions %v but have: %v", want, have)
	}
	syncErr, _ := logs.find(ActionSyncError)
	if syncErr.ErrorMessage != "missing configuration" {
		t.Errorf("Expected error message: missing configuration but have: %s", syncErr.ErrorMessage)
	}
}

func TestOnUserRegistered_UserNotFound(t *testing.T) {
	users := newMemUserStore()
	logs := &memLogStore{}
	syncer := newTestSyncer("https://circle.example.com", users, logs)

	syncer.OnUserRegistered(context.Background(), 99)

	syncErr, ok := logs.find(ActionSyncError)
	if !ok {
		t.Fatal("Expected a SYNC_ERROR entry for an unknown user but have none")
	}
	if syncErr.ErrorMessage != "unable to load user data" {
		t.Errorf("Expected error message: unable to load user data but have: %s", syncErr.ErrorMessage)
	}
}

func TestOnUserRegistered_NestedTriggerIsSkipped(t *testing.T) {
	users := newMemUserStore(testUser, UserRecord{ID: 43, Email: "c@d.com"})
	logs := &memLogStore{}

	var syncer *Syncer
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// a side effect of the first sync triggers a second registration
		syncer.OnUserRegistered(r.Context(), 43)
		w.Write([]byte(`{"recipientID":"R1"}`))
	}))
	defer server.Close()

	syncer = newTestSyncer(server.URL, users, logs)
	syncer.OnUserRegistered(context.Background(), testUser.ID)

	skipped, ok := logs.find(ActionSyncSkipped)
	if !ok {
		t.Fatal("Expected the nested trigger to be skipped but have no SYNC_SKIPPED entry")
	}
	if skipped.UserID != 43 {
		t.Errorf("Expected the skip to record user 43 but have: %d", skipped.UserID)
	}
	if reason := gjson.Get(skipped.RequestData, "reason").String(); reason != ReasonInProgress {
		t.Errorf("Expected reason: %s but have: %s", ReasonInProgress, reason)
	}

	recipientID, _ := users.RecipientID(context.Background(), testUser.ID)
	if recipientID != "R1" {
		t.Errorf("Expected the outer sync to complete but have recipient id: %s", recipientID)
	}
	if syncer.Gate.InFlight() {
		t.Error("Expected the gate to be released after the outer run")
	}
}

func TestOnUserRegistered_PersistFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"recipientID":"R1"}`))
	}))
	defer server.Close()

	users := newMemUserStore(testUser)
	users.setErr = errors.New("disk full")
	logs := &memLogStore{}
	syncer := newTestSyncer(server.URL, users, logs)

	syncer.OnUserRegistered(context.Background(), testUser.ID)

	syncErr, ok := logs.find(ActionSyncError)
	if !ok {
		t.Fatal("Expected a SYNC_ERROR entry when persisting fails but have none")
	}
	if syncErr.ErrorMessage != "failed to persist recipient id: disk full" {
		t.Errorf("Expected the persist failure message but have: %s", syncErr.ErrorMessage)
	}
	if _, ok := logs.find(ActionSyncSuccess); ok {
		t.Error("Expected no SYNC_SUCCESS entry when persisting fails")
	}
}

func TestTestConnection_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"recipientID":"R9"}`))
	}))
	defer server.Close()

	users := newMemUserStore(testUser)
	logs := &memLogStore{}
	syncer := newTestSyncer(server.URL, users, logs)

	result := syncer.TestConnection(context.Background(), testUser)

	if !result.Success {
		t.Fatalf("Expected a successful test but have: %s", result.Message)
	}
	if result.Message != "connection successful" {
		t.Errorf("Expected message: connection successful but have: %s", result.Message)
	}
	if result.Response != `{"recipientID":"R9"}` {
		t.Errorf("Expected the raw response body but have: %s", result.Response)
	}
	if url := gjson.Get(result.Request, "url").String(); url != server.URL+"/XMPieXMPL_REST_API/v1/projects/T1/adorvalues" {
		t.Errorf("Expected the request snapshot to carry the full URL but have: %s", url)
	}

	recipientID, _ := users.RecipientID(context.Background(), testUser.ID)
	if recipientID != "" {
		t.Errorf("Expected a connection test to write no sync state but have recipient id: %s", recipientID)
	}

	want := []Action{
		ActionTestStart,
		ActionTestRequest,
		ActionTestResponse,
		ActionTestSuccess,
	}
	if have := logs.actions(); !equalActions(have, want) {
		t.Errorf("Expected actions %v but have: %v", want, have)
	}
}

func TestTestConnection_Failure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"bad token"}`))
	}))
	defer server.Close()

	users := newMemUserStore(testUser)
	logs := &memLogStore{}
	syncer := newTestSyncer(server.URL, users, logs)

	result := syncer.TestConnection(context.Background(), testUser)

	if result.Success {
		t.Fatal("Expected a failed test for a 401 response")
	}
	if result.Response != `{"error":"bad token"}` {
		t.Errorf("Expected the error body but have: %s", result.Response)
	}
	if _, ok := logs.find(ActionTestError); !ok {
		t.Error("Expected a TEST_ERROR entry but have none")
	}
}

func TestTestConnection_IncompleteConfiguration(t *testing.T) {
	users := newMemUserStore(testUser)
	logs := &memLogStore{}
	syncer := NewSyncer(StaticConfigSource{}, users, NewRecorder(logs, nil), Client{}, nil)

	result := syncer.TestConnection(context.Background(), testUser)

	if result.Success {
		t.Fatal("Expected a failed test without configuration")
	}
	if result.Message != "missing configuration" {
		t.Errorf("Expected message: missing configuration but have: %s", result.Message)
	}
	if gjson.Get(result.Request, "endpoint_set").Bool() {
		t.Errorf("Expected endpoint_set: false but have: %s", result.Request)
	}
}
