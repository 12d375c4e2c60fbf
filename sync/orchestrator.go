package sync

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"
)

// Syncer sequences a sync attempt end to end: gate check, configuration
// load, payload build, remote call, state persist, with every step recorded
// in the audit log. Collaborators are injected once at construction; the
// Syncer itself holds no configuration.
type Syncer struct {
	Configs ConfigSource
	Users   UserStore
	Client  Client
	Audit   *Recorder
	Gate    *Gate
	Logger  *zap.Logger
}

func NewSyncer(configs ConfigSource, users UserStore, audit *Recorder, client Client, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{
		Configs: configs,
		Users:   users,
		Client:  client,
		Audit:   audit,
		Gate:    &Gate{},
		Logger:  logger,
	}
}

// OnUserRegistered is the inbound trigger, invoked by the host application
// immediately after a user account is created. It never returns an error:
// sync failure must not surface to the account-creation flow. Outcomes are
// visible only through the audit log.
func (s *Syncer) OnUserRegistered(ctx context.Context, userID int64) {
	if !s.Gate.TryAcquire() {
		s.Audit.Record(ctx, userID, ActionSyncSkipped,
			jsonSet("", "reason", ReasonInProgress),
			nil, StatusSkipped, "")
		return
	}
	defer s.Gate.Release()

	s.runRegistrationSync(ctx, userID)
}

// runRegistrationSync is one attempt, ending in SYNC_SUCCESS, SYNC_SKIPPED,
// SYNC_ERROR or API_ERROR. All outcomes are terminal; nothing is retried.
func (s *Syncer) runRegistrationSync(ctx context.Context, userID int64) {
	start := jsonSet("", "user_id", userID)
	start = jsonSet(start, "trigger", "user-registered")
	start = jsonSet(start, "timestamp", time.Now().UTC().Format(time.RFC3339))
	s.Audit.Record(ctx, userID, ActionSyncStart, start, nil, StatusInfo, "")

	user, err := s.Users.User(ctx, userID)
	if err != nil {
		msg := "unable to load user data"
		if !errors.Is(err, ErrNoSuchUser) {
			msg = "unable to load user data: " + err.Error()
		}
		s.Audit.Record(ctx, userID, ActionSyncError, nil, nil, StatusError, msg)
		return
	}

	recipientID, err := s.Users.RecipientID(ctx, userID)
	if err != nil {
		// a broken meta lookup is not proof the user was synced; treat as
		// unsynced but leave a trace
		s.Logger.Warn("recipient id lookup failed", zap.Int64("user_id", userID), zap.Error(err))
	}
	if recipientID != "" {
		skipped := jsonSet("", "reason", ReasonAlreadySynced)
		skipped = jsonSet(skipped, "recipient_id", recipientID)
		s.Audit.Record(ctx, userID, ActionSyncSkipped, skipped, nil, StatusSkipped, "")
		return
	}

	config, err := s.Configs.SyncConfig()
	if err != nil {
		s.Audit.Record(ctx, userID, ActionSyncError, nil, nil, StatusError,
			"unable to load configuration: "+err.Error())
		return
	}

	s.Audit.Record(ctx, userID, ActionConfigCheck, configCheckSnapshot(config), nil, StatusInfo, "")

	if !config.IsComplete() {
		s.Audit.Record(ctx, userID, ActionSyncError, nil, nil, StatusError, "missing configuration")
		return
	}

	values := BuildRecipientValues(config.FieldMappings, user)

	s.Audit.Record(ctx, userID, ActionAPIRequest, requestSnapshot(config, values), nil, StatusInfo, "")

	result, err := s.Client.Send(ctx, config, values)

	raw := jsonSet("", "transport_error", err != nil && result.StatusCode == 0)
	raw = jsonSet(raw, "code", result.StatusCode)
	raw = jsonSet(raw, "body", result.Body)
	s.Audit.Record(ctx, userID, ActionRawResponse, raw, nil, StatusInfo, "")

	if err != nil {
		syncErr, _ := AsSyncError(err)
		if syncErr != nil && syncErr.Kind == TransportFailure {
			s.Audit.Record(ctx, userID, ActionAPIError, nil, nil, StatusError, syncErr.Message)
			return
		}
		s.Audit.Record(ctx, userID, ActionAPIResponseDetails, responseSnapshot(result), nil, StatusInfo, "")
		s.Audit.Record(ctx, userID, ActionAPIError, nil, result.Body, StatusError, err.Error())
		return
	}

	s.Audit.Record(ctx, userID, ActionAPIResponseDetails, responseSnapshot(result), nil, StatusInfo, "")

	// A crash here, after the remote recipient exists but before the id is
	// persisted, leaves the user eligible for a duplicate remote recipient
	// on a manual resync. Known gap: the two writes are not transactional.
	if err := s.Users.SetRecipientID(ctx, userID, result.RecipientID); err != nil {
		s.Logger.Error("failed to persist recipient id",
			zap.Int64("user_id", userID),
			zap.String("recipient_id", result.RecipientID),
			zap.Error(err))
		s.Audit.Record(ctx, userID, ActionSyncError, nil, result.Body, StatusError,
			"failed to persist recipient id: "+err.Error())
		return
	}

	s.Audit.Record(ctx, userID, ActionSyncSuccess, nil, result.Body, StatusSuccess, "")
}

// TestResult is returned to the caller of TestConnection, carrying the
// request and response snapshots so an admin surface can display them.
type TestResult struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Request  string `json:"request,omitempty"`
	Response string `json:"response,omitempty"`
}

// TestConnection exercises the identical payload-build and send path against
// the current configuration using the supplied user record. It never writes
// sync state and logs under TEST_* action tags regardless of outcome.
func (s *Syncer) TestConnection(ctx context.Context, current UserRecord) TestResult {
	start := jsonSet("", "timestamp", time.Now().UTC().Format(time.RFC3339))
	start = jsonSet(start, "initiated_by", current.ID)
	s.Audit.Record(ctx, 0, ActionTestStart, start, nil, StatusInfo, "")

	config, err := s.Configs.SyncConfig()
	if err != nil {
		msg := "unable to load configuration: " + err.Error()
		s.Audit.Record(ctx, 0, ActionTestError, nil, nil, StatusError, msg)
		return TestResult{Message: msg}
	}

	if !config.IsComplete() {
		details := jsonSet("", "error", "missing configuration")
		details = jsonSet(details, "endpoint_set", config.Endpoint != "")
		details = jsonSet(details, "token_set", config.AccessToken != "")
		details = jsonSet(details, "mappings_set", len(config.FieldMappings) > 0)
		s.Audit.Record(ctx, 0, ActionTestError, details, nil, StatusError, "")
		return TestResult{Message: "missing configuration", Request: details}
	}

	values := BuildRecipientValues(config.FieldMappings, current)
	request := requestSnapshot(config, values)
	s.Audit.Record(ctx, 0, ActionTestRequest, request, nil, StatusInfo, "")

	result, err := s.Client.Send(ctx, config, values)
	if err != nil {
		syncErr, _ := AsSyncError(err)
		if syncErr != nil && syncErr.Kind == TransportFailure {
			s.Audit.Record(ctx, 0, ActionTestError, request, nil, StatusError, syncErr.Message)
			return TestResult{Message: syncErr.Message, Request: request}
		}
		s.Audit.Record(ctx, 0, ActionTestResponse, responseSnapshot(result), nil, StatusInfo, "")
		s.Audit.Record(ctx, 0, ActionTestError, request, result.Body, StatusError, err.Error())
		return TestResult{Message: err.Error(), Request: request, Response: result.Body}
	}

	s.Audit.Record(ctx, 0, ActionTestResponse, responseSnapshot(result), nil, StatusInfo, "")
	s.Audit.Record(ctx, 0, ActionTestSuccess, request, result.Body, StatusSuccess, "")
	return TestResult{
		Success:  true,
		Message:  "connection successful",
		Request:  request,
		Response: result.Body,
	}
}

func configCheckSnapshot(config Config) string {
	check := jsonSet("", "has_endpoint", config.Endpoint != "")
	check = jsonSet(check, "has_token", config.AccessToken != "")
	check = jsonSet(check, "has_mappings", len(config.FieldMappings) > 0)
	check = jsonSet(check, "endpoint", config.Endpoint)
	if mappings, err := json.Marshal(config.FieldMappings); err == nil {
		check = jsonSetRaw(check, "mappings", string(mappings))
	}
	return check
}

func requestSnapshot(config Config, values map[string]string) string {
	request := jsonSet("", "url", RequestURL(config))
	request = jsonSet(request, "method", "POST")
	request = jsonSet(request, "headers.Content-Type", "application/json")
	request = jsonSet(request, "body.newRecipientValues", values)
	return request
}

func responseSnapshot(result SendResult) string {
	response := jsonSet("", "code", result.StatusCode)
	if gjson.Valid(result.Body) {
		response = jsonSetRaw(response, "body", result.Body)
	} else {
		response = jsonSet(response, "body", result.Body)
	}
	return response
}

func jsonSet(doc string, path string, value interface{}) string {
	result, err := sjson.Set(doc, path, value)
	if err != nil {
		return doc
	}
	return result
}

func jsonSetRaw(doc string, path string, raw string) string {
	result, err := sjson.SetRaw(doc, path, raw)
	if err != nil {
		return doc
	}
	return result
}
