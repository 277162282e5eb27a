package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"telecare-server/internal/chat"
	"telecare-server/internal/config"
	"telecare-server/internal/logging"
	"telecare-server/internal/metrics"
	"telecare-server/internal/middleware"
	"telecare-server/internal/models"
	"telecare-server/internal/payments"
	"telecare-server/internal/scheduling"
	"telecare-server/internal/store"
	"telecare-server/internal/store/storetest"
	"telecare-server/internal/utils"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type apiFixture struct {
	t       *testing.T
	cfg     *config.Config
	clock   *testClock
	router  *gin.Engine
	chat    *chat.Manager
	doctor  *models.User
	patient *models.User
	other   *models.User
	admin   *models.User
}

// envelope mirrors utils.ResponseData with a raw payload.
type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Origin:                    "http://localhost:4200",
		Environment:               "development",
		JWTSecret:                 "access",
		JWTRefreshSecret:          "refresh",
		JWTExpirationMinutes:      5,
		JWTRefreshExpirationHours: 1,
	}
	db := storetest.Open(t)
	logger := logging.NewWithWriter("error", io.Discard)
	clock := &testClock{now: time.Date(2025, 9, 10, 8, 0, 0, 0, time.UTC)}
	m := metrics.New(prometheus.NewRegistry())

	appointments := store.NewAppointmentRepository(db)
	users := store.NewUserRepository(db)
	manager := chat.NewManager(chat.ManagerConfig{
		Messages: store.NewMessageRepository(db),
		Rooms:    appointments,
		Metrics:  m,
		Logger:   logger,
		Now:      clock.Now,
	})
	t.Cleanup(func() { _ = manager.Close() })

	service := scheduling.NewService(scheduling.ServiceConfig{
		Appointments: appointments,
		Users:        users,
		Payments:     payments.NewLedgerGateway(db, logger),
		Chat:         manager,
		Metrics:      m,
		Logger:       logger,
		Location:     time.UTC,
		Now:          clock.Now,
	})

	authHandler := NewAuthHandler(users, store.NewRefreshTokenRepository(db), cfg)
	userHandler := NewUserHandler(users)
	appointmentHandler := NewAppointmentHandler(service)
	messageHandler := NewMessageHandler(service)
	socketHandler := NewChatSocketHandler(manager, cfg.Origin, logger)

	r := gin.New()
	api := r.Group("/api/v1")
	api.POST("/auth/register", authHandler.Register)
	api.POST("/auth/login", authHandler.Login)
	api.POST("/auth/refresh-token", authHandler.RefreshToken)
	api.GET("/ws", middleware.QueryTokenAuthMiddleware(cfg), socketHandler.HandleConnect)

	private := api.Group("", middleware.AuthMiddleware(cfg))
	private.POST("/auth/logout", authHandler.Logout)
	private.GET("/auth/profile", authHandler.GetProfile)
	private.GET("/users/doctors", userHandler.GetDoctors)
	private.POST("/users", middleware.RoleAuthMiddleware(models.RoleAdmin), userHandler.CreateUser)

	apts := private.Group("/appointments")
	apts.POST("", middleware.RoleAuthMiddleware(models.RolePatient, models.RoleAdmin), appointmentHandler.CreateAppointment)
	apts.GET("", appointmentHandler.GetAppointmentsForUser)
	apts.GET("/:id", appointmentHandler.GetAppointmentByID)
	apts.GET("/:id/join-status", appointmentHandler.GetJoinStatus)
	apts.POST("/:id/payment", appointmentHandler.ConfirmPayment)
	apts.POST("/:id/cancel", appointmentHandler.CancelAppointment)
	apts.POST("/:id/complete", appointmentHandler.CompleteConsultation)
	apts.POST("/:id/reschedule", appointmentHandler.ProposeReschedule)
	apts.POST("/:id/reschedule/accept", appointmentHandler.AcceptReschedule)
	apts.POST("/:id/reschedule/reject", appointmentHandler.RejectReschedule)
	apts.POST("/:id/messages", messageHandler.SendMessage)
	apts.GET("/:id/messages", messageHandler.GetMessages)
	apts.GET("/:id/messages/unread", messageHandler.GetUnreadCount)

	return &apiFixture{
		t:       t,
		cfg:     cfg,
		clock:   clock,
		router:  r,
		chat:    manager,
		doctor:  storetest.SeedUser(t, db, models.RoleDoctor, "doc@example.com"),
		patient: storetest.SeedUser(t, db, models.RolePatient, "pat@example.com"),
		other:   storetest.SeedUser(t, db, models.RolePatient, "other@example.com"),
		admin:   storetest.SeedUser(t, db, models.RoleAdmin, "admin@example.com"),
	}
}

func (f *apiFixture) token(user *models.User) string {
	f.t.Helper()
	access, _, err := utils.GenerateTokens(user, f.cfg)
	require.NoError(f.t, err)
	return access
}

// do performs a request as user (nil for anonymous) and decodes the envelope.
func (f *apiFixture) do(method, path string, user *models.User, body any) (int, envelope) {
	f.t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(f.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != nil {
		req.Header.Set("Authorization", "Bearer "+f.token(user))
	}

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(f.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w.Code, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out), string(env.Data))
	return out
}

// bookConfirmed books a paid 2:00 PM video consultation between the fixture doctor and patient.
func (f *apiFixture) bookConfirmed() models.Appointment {
	f.t.Helper()

	code, env := f.do(http.MethodPost, "/api/v1/appointments", f.patient, BookAppointmentRequest{
		DoctorID:      f.doctor.ID,
		ScheduledDate: "2025-09-10",
		ScheduledTime: "02:00 PM",
	})
	require.Equal(f.t, http.StatusCreated, code, env.Error)
	apt := decodeData[models.Appointment](f.t, env)

	code, env = f.do(http.MethodPost, "/api/v1/appointments/"+apt.ID+"/payment", f.patient, ConfirmPaymentRequest{PaymentRef: "pay_" + apt.ID})
	require.Equal(f.t, http.StatusOK, code, env.Error)
	return decodeData[models.Appointment](f.t, env)
}
