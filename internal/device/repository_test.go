package device

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/edgewatch/edgewatch-core/internal/infrastructure/database"
	_ "github.com/edgewatch/edgewatch-core/migrations"
)

// setupTestDB creates a migrated in-memory SQLite database.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db.DB
}

// seedUser inserts a user for devices to reference.
func seedUser(t *testing.T, db *sql.DB, id string) *User {
	t.Helper()
	u := &User{ID: id, Username: "user-" + id, Email: id + "@example.com"}
	if err := NewSQLiteUserRepository(db).CreateUser(context.Background(), u); err != nil {
		t.Fatalf("seeding user: %v", err)
	}
	return u
}

// testDevice creates an enabled device for testing.
func testDevice(id, userID string) *Device {
	return &Device{
		ID:      id,
		UserID:  userID,
		Name:    "Camera " + id,
		APIKey:  "key-" + id,
		Enabled: true,
	}
}

func TestSQLiteRepository_CreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	seedUser(t, db, "u1")
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	d := testDevice("d1", "u1")
	d.ProfilerEnabled = true
	if err := repo.Create(ctx, d); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	byID, err := repo.GetByID(ctx, "d1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if byID.Name != "Camera d1" || !byID.Enabled || !byID.ProfilerEnabled {
		t.Errorf("GetByID() = %+v", byID)
	}
	if byID.Online || byID.Activated || byID.ConnectionCount != 0 || byID.LastOnlineAt != nil {
		t.Errorf("new device should start offline and unactivated: %+v", byID)
	}

	byKey, err := repo.GetByAPIKey(ctx, "key-d1")
	if err != nil {
		t.Fatalf("GetByAPIKey() error = %v", err)
	}
	if byKey.ID != "d1" {
		t.Errorf("GetByAPIKey().ID = %q", byKey.ID)
	}
}

func TestSQLiteRepository_Create_GeneratesID(t *testing.T) {
	db := setupTestDB(t)
	seedUser(t, db, "u1")
	repo := NewSQLiteRepository(db)

	d := testDevice("", "u1")
	d.APIKey = "generated"
	if err := repo.Create(context.Background(), d); err != nil {
		t.Fatal(err)
	}
	if d.ID == "" {
		t.Error("Create() did not assign an ID")
	}
}

func TestSQLiteRepository_Create_Errors(t *testing.T) {
	db := setupTestDB(t)
	seedUser(t, db, "u1")
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	if err := repo.Create(ctx, testDevice("d1", "u1")); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		device  *Device
		wantErr error
	}{
		{"duplicate id", func() *Device { d := testDevice("d1", "u1"); d.APIKey = "other"; return d }(), ErrDeviceExists},
		{"duplicate key", func() *Device { d := testDevice("d2", "u1"); d.APIKey = "key-d1"; return d }(), ErrDeviceExists},
		{"missing name", &Device{ID: "d3", UserID: "u1", APIKey: "k3"}, ErrInvalidDevice},
		{"missing key", &Device{ID: "d4", UserID: "u1", Name: "x"}, ErrInvalidDevice},
		{"missing user", &Device{ID: "d5", Name: "x", APIKey: "k5"}, ErrInvalidDevice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := repo.Create(ctx, tt.device); !errors.Is(err, tt.wantErr) {
				t.Errorf("Create() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSQLiteRepository_NotFound(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if _, err := repo.GetByID(ctx, "missing"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetByID() error = %v", err)
	}
	if _, err := repo.GetByAPIKey(ctx, "missing"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetByAPIKey() error = %v", err)
	}
	if _, err := repo.GetByAPIKey(ctx, ""); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetByAPIKey(empty) error = %v", err)
	}
	if _, err := repo.MarkOnline(ctx, "missing", time.Now()); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("MarkOnline() error = %v", err)
	}
	if err := repo.MarkOffline(ctx, "missing"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("MarkOffline() error = %v", err)
	}
	if err := repo.SetFeature(ctx, "missing", FeatureProfiler, true); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("SetFeature() error = %v", err)
	}
}

func TestSQLiteRepository_MarkOnlineOffline(t *testing.T) {
	db := setupTestDB(t)
	seedUser(t, db, "u1")
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	if err := repo.Create(ctx, testDevice("d1", "u1")); err != nil {
		t.Fatal(err)
	}

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for want := int64(1); want <= 3; want++ {
		d, err := repo.MarkOnline(ctx, "d1", at)
		if err != nil {
			t.Fatalf("MarkOnline() error = %v", err)
		}
		if d.ConnectionCount != want {
			t.Errorf("ConnectionCount = %d, want %d", d.ConnectionCount, want)
		}
		if !d.Online || !d.Activated {
			t.Errorf("after MarkOnline: online=%v activated=%v", d.Online, d.Activated)
		}
		if d.LastOnlineAt == nil || !d.LastOnlineAt.Equal(at) {
			t.Errorf("LastOnlineAt = %v, want %v", d.LastOnlineAt, at)
		}
	}

	if err := repo.MarkOffline(ctx, "d1"); err != nil {
		t.Fatalf("MarkOffline() error = %v", err)
	}
	d, err := repo.GetByID(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if d.Online {
		t.Error("device still online after MarkOffline")
	}
	if !d.Activated || d.ConnectionCount != 3 {
		t.Errorf("MarkOffline changed activated/count: %+v", d)
	}
}

func TestSQLiteRepository_SetFeatureAndEnabled(t *testing.T) {
	db := setupTestDB(t)
	seedUser(t, db, "u1")
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	if err := repo.Create(ctx, testDevice("d1", "u1")); err != nil {
		t.Fatal(err)
	}

	if err := repo.SetFeature(ctx, "d1", FeatureIntruderDetection, true); err != nil {
		t.Fatal(err)
	}
	if err := repo.SetEnabled(ctx, "d1", false); err != nil {
		t.Fatal(err)
	}
	if err := repo.SetFeature(ctx, "d1", Feature("restart"), true); !errors.Is(err, ErrInvalidFeature) {
		t.Errorf("SetFeature(restart) error = %v, want ErrInvalidFeature", err)
	}

	d, err := repo.GetByID(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if !d.IntruderDetectionEnabled || d.ProfilerEnabled || d.Enabled {
		t.Errorf("flags = intruder:%v profiler:%v enabled:%v", d.IntruderDetectionEnabled, d.ProfilerEnabled, d.Enabled)
	}
}

func TestSQLiteRepository_ListByUser(t *testing.T) {
	db := setupTestDB(t)
	seedUser(t, db, "u1")
	seedUser(t, db, "u2")
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	for _, d := range []*Device{testDevice("b", "u1"), testDevice("a", "u1"), testDevice("c", "u2")} {
		if err := repo.Create(ctx, d); err != nil {
			t.Fatal(err)
		}
	}

	devices, err := repo.ListByUser(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(devices) != 2 || devices[0].ID != "a" || devices[1].ID != "b" {
		t.Errorf("ListByUser() = %+v", devices)
	}
}

func TestSQLiteUserRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteUserRepository(db)
	ctx := context.Background()

	u := &User{Username: "alice", Email: "alice@example.com"}
	if err := repo.CreateUser(ctx, u); err != nil {
		t.Fatal(err)
	}
	if err := repo.CreateUser(ctx, &User{Username: "alice"}); !errors.Is(err, ErrUserExists) {
		t.Errorf("duplicate CreateUser() error = %v", err)
	}

	got, err := repo.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Email != "alice@example.com" {
		t.Errorf("Email = %q", got.Email)
	}
	if _, err := repo.GetUser(ctx, "missing"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("GetUser(missing) error = %v", err)
	}

	settings, err := repo.GetSettings(ctx, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if settings != DefaultSettings() {
		t.Errorf("GetSettings() without row = %+v, want defaults", settings)
	}

	want := Settings{WebNotification: false, EmailNotification: true}
	if err := repo.SaveSettings(ctx, u.ID, want); err != nil {
		t.Fatal(err)
	}
	if got, _ := repo.GetSettings(ctx, u.ID); got != want {
		t.Errorf("GetSettings() = %+v, want %+v", got, want)
	}

	want.EmailNotification = false
	if err := repo.SaveSettings(ctx, u.ID, want); err != nil {
		t.Fatal(err)
	}
	if got, _ := repo.GetSettings(ctx, u.ID); got != want {
		t.Errorf("GetSettings() after update = %+v, want %+v", got, want)
	}

	if err := repo.SaveSettings(ctx, "missing", want); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("SaveSettings(missing) error = %v", err)
	}
}

func TestParseFeature(t *testing.T) {
	tests := []struct {
		in      string
		want    Feature
		wantErr bool
	}{
		{"profiler", FeatureProfiler, false},
		{"intruder_detection", FeatureIntruderDetection, false},
		{"restart", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFeature(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFeature(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseFeature(%q) = %q", tt.in, got)
			}
		})
	}
}
