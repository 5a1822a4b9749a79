package guard

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tilerush/backend/internal/apperrors"
	"github.com/tilerush/backend/internal/canonical"
	"github.com/tilerush/backend/internal/models"
)

type fakeDevices struct {
	mu      sync.Mutex
	devices map[string]*models.UserDevice
}

func deviceKey(userID uuid.UUID, deviceID string) string {
	return userID.String() + "/" + deviceID
}

func (f *fakeDevices) Get(_ context.Context, userID uuid.UUID, deviceID string) (*models.UserDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[deviceKey(userID, deviceID)]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

// ConsumeNonce mirrors the conditional-update semantics of the SQL store:
// the check and the write happen under one lock.
func (f *fakeDevices) ConsumeNonce(_ context.Context, userID uuid.UUID, deviceID, nonce string, _ *string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[deviceKey(userID, deviceID)]
	if !ok || d.RevokedAt != nil {
		return false, nil
	}
	if d.LastNonce != nil && *d.LastNonce == nonce {
		return false, nil
	}
	n := nonce
	d.LastNonce = &n
	return true, nil
}

type fakeKeys struct {
	rows map[uuid.UUID]*models.UserSecurity
}

func (f *fakeKeys) Get(_ context.Context, userID uuid.UUID) (*models.UserSecurity, error) {
	return f.rows[userID], nil
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []models.AuditEntry
}

func (f *fakeAudit) Log(_ context.Context, entry models.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAudit) count(eventType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.entries {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

type fixture struct {
	guard   *Guard
	devices *fakeDevices
	keys    *fakeKeys
	audit   *fakeAudit
	userID  uuid.UUID
	priv    ed25519.PrivateKey
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}

	userID := uuid.New()
	pubStr := base64.StdEncoding.EncodeToString(pub)

	devices := &fakeDevices{devices: map[string]*models.UserDevice{
		deviceKey(userID, "dev-1"): {
			ID:        uuid.New(),
			UserID:    userID,
			DeviceID:  "dev-1",
			CreatedAt: time.Now().Add(-30 * 24 * time.Hour),
		},
	}}
	keys := &fakeKeys{rows: map[uuid.UUID]*models.UserSecurity{
		userID: {UserID: userID, PublicKey: &pubStr},
	}}
	audit := &fakeAudit{}

	return &fixture{
		guard:   New(devices, keys, audit, 60*time.Second, zap.NewNop()),
		devices: devices,
		keys:    keys,
		audit:   audit,
		userID:  userID,
		priv:    priv,
	}
}

// signedRequest builds a fully valid request, then lets the test mutate it.
func (f *fixture) signedRequest(t *testing.T, nonce string) Request {
	t.Helper()
	req := Request{
		UserID:      f.userID,
		DeviceID:    "dev-1",
		SessionID:   "sess-1",
		Operation:   "spend",
		TimestampMS: time.Now().UnixMilli(),
		Nonce:       nonce,
		Body:        map[string]any{"amount": 10},
	}
	msg, err := canonical.BuildOperationMessage(req.Operation, req.UserID.String(), req.TimestampMS, req.Nonce, req.DeviceID, req.SessionID, req.Body)
	if err != nil {
		t.Fatal(err)
	}
	req.SignatureB64 = base64.StdEncoding.EncodeToString(ed25519.Sign(f.priv, msg))
	return req
}

func TestAuthorize_Success(t *testing.T) {
	f := newFixture(t)
	res, err := f.guard.Authorize(context.Background(), f.signedRequest(t, "n-1"))
	if err != nil {
		t.Fatalf("authorize failed: %v", err)
	}
	if res.Device == nil || res.Security == nil {
		t.Fatal("result missing device or security")
	}
	if f.audit.count(models.AuditOperationAuthorized) != 1 {
		t.Error("expected one authorization audit event")
	}
}

func TestAuthorize_Denials(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*fixture, *Request)
		code   apperrors.Code
	}{
		{"missing device id", func(_ *fixture, r *Request) { r.DeviceID = "" }, apperrors.CodeDeviceIDRequired},
		{"session mismatch", func(_ *fixture, r *Request) { r.SessionDeviceID = "other-device" }, apperrors.CodeDeviceSessionMismatch},
		{"missing nonce", func(_ *fixture, r *Request) { r.Nonce = "" }, apperrors.CodeSignatureMalformed},
		{"missing timestamp", func(_ *fixture, r *Request) { r.TimestampMS = 0 }, apperrors.CodeSignatureMalformed},
		{"bad signature base64", func(_ *fixture, r *Request) { r.SignatureB64 = "!!!" }, apperrors.CodeSignatureMalformed},
		{"short signature", func(_ *fixture, r *Request) {
			r.SignatureB64 = base64.StdEncoding.EncodeToString([]byte("short"))
		}, apperrors.CodeSignatureMalformed},
		{"expired timestamp", func(_ *fixture, r *Request) {
			r.TimestampMS = time.Now().Add(-2 * time.Minute).UnixMilli()
		}, apperrors.CodeSignatureExpired},
		{"future timestamp", func(_ *fixture, r *Request) {
			r.TimestampMS = time.Now().Add(2 * time.Minute).UnixMilli()
		}, apperrors.CodeSignatureExpired},
		{"no public key", func(f *fixture, _ *Request) {
			f.keys.rows[f.userID].PublicKey = nil
		}, apperrors.CodeMissingPublicKey},
		{"unknown device", func(_ *fixture, r *Request) { r.DeviceID = "dev-unknown" }, apperrors.CodeDeviceNotFound},
		{"revoked device", func(f *fixture, r *Request) {
			now := time.Now()
			f.devices.devices[deviceKey(f.userID, "dev-1")].RevokedAt = &now
		}, apperrors.CodeDeviceRevoked},
		{"tampered body", func(_ *fixture, r *Request) {
			r.Body = map[string]any{"amount": 9999}
		}, apperrors.CodeInvalidSignature},
		{"signature for other nonce", func(_ *fixture, r *Request) { r.Nonce = "n-other" }, apperrors.CodeInvalidSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := f.signedRequest(t, "n-1")
			tt.mutate(f, &req)

			_, err := f.guard.Authorize(context.Background(), req)
			if err == nil {
				t.Fatal("expected denial")
			}
			if got := apperrors.CodeOf(err); got != tt.code {
				t.Errorf("code = %s, want %s", got, tt.code)
			}

			// No nonce may be consumed on a rejection path.
			d := f.devices.devices[deviceKey(f.userID, "dev-1")]
			if d.LastNonce != nil {
				t.Errorf("nonce %q consumed on rejection", *d.LastNonce)
			}
		})
	}
}

func TestAuthorize_ExpiredSkipsSignatureCheck(t *testing.T) {
	f := newFixture(t)
	req := f.signedRequest(t, "n-1")
	req.TimestampMS = time.Now().Add(-2 * time.Minute).UnixMilli()
	// Even an unverifiable signature must not be reached.
	req.SignatureB64 = base64.StdEncoding.EncodeToString(make([]byte, 64))

	_, err := f.guard.Authorize(context.Background(), req)
	if got := apperrors.CodeOf(err); got != apperrors.CodeSignatureExpired {
		t.Errorf("code = %s, want %s", got, apperrors.CodeSignatureExpired)
	}
}

func TestAuthorize_RejectedSignatureIsAudited(t *testing.T) {
	f := newFixture(t)
	req := f.signedRequest(t, "n-1")
	req.Body = map[string]any{"amount": 9999}

	_, err := f.guard.Authorize(context.Background(), req)
	if got := apperrors.CodeOf(err); got != apperrors.CodeInvalidSignature {
		t.Fatalf("code = %s, want %s", got, apperrors.CodeInvalidSignature)
	}
	if f.audit.count(models.AuditSignatureRejected) != 1 {
		t.Error("signature rejection left no audit trail")
	}
	if f.audit.count(models.AuditOperationAuthorized) != 0 {
		t.Error("rejected request audited as authorized")
	}
}

func TestAuthorize_ReplaySequential(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.guard.Authorize(ctx, f.signedRequest(t, "n-1")); err != nil {
		t.Fatalf("first request failed: %v", err)
	}

	_, err := f.guard.Authorize(ctx, f.signedRequest(t, "n-1"))
	if !apperrors.IsCode(err, apperrors.CodeReplayDetected) {
		t.Fatalf("replay not detected: %v", err)
	}
	if f.audit.count(models.AuditReplayDetected) != 1 {
		t.Error("expected one replay audit event")
	}

	// A fresh nonce goes through again.
	if _, err := f.guard.Authorize(ctx, f.signedRequest(t, "n-2")); err != nil {
		t.Fatalf("fresh nonce rejected: %v", err)
	}
}

func TestAuthorize_ReplayConcurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const attempts = 16
	req := f.signedRequest(t, "n-race")

	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.guard.Authorize(ctx, req)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, replays int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case apperrors.IsCode(err, apperrors.CodeReplayDetected):
			replays++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Errorf("exactly one request must be authorized, got %d", ok)
	}
	if replays != attempts-1 {
		t.Errorf("expected %d replays, got %d", attempts-1, replays)
	}
}

func TestAuthorize_StructurallyEqualBodyVerifies(t *testing.T) {
	f := newFixture(t)
	req := f.signedRequest(t, "n-1")
	// A freshly built, structurally equal body must canonicalize to the
	// same bytes the client signed.
	req.Body = map[string]any{"amount": 10}

	if _, err := f.guard.Authorize(context.Background(), req); err != nil {
		t.Fatalf("structurally equal body rejected: %v", err)
	}
}
