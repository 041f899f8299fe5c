package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"huddle/config"
	"huddle/internal/auth"
	"huddle/internal/call"
	"huddle/internal/chat"
	"huddle/internal/common/database"
	"huddle/internal/email"
	"huddle/internal/events"
	"huddle/internal/livekit"
	"huddle/internal/meeting"
	"huddle/internal/push"
	"huddle/internal/roster"
	"huddle/internal/user"
	"huddle/pkg/logger"
)

func main() {
	cfg := config.Load()

	log := logger.New(cfg.AppEnv)
	defer log.Sync()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database: ", err)
	}
	defer db.Close()

	log.Info("Running database migrations...")
	if err := database.RunMigrations(db); err != nil {
		log.Fatal("Failed to run migrations: ", err)
	}

	rdb, err := database.NewRedis(cfg.Redis)
	if err != nil {
		log.Fatal("Failed to connect to Redis: ", err)
	}
	defer rdb.Close()

	hub := events.NewHub(events.NewRedisOfflineStore(rdb), log)

	lk := livekit.NewProvider(cfg.LiveKit)

	// Services are created after the tracker so confirmed departures can be
	// dispatched to them; the closure only fires once timers elapse.
	var callService *call.Service
	var meetingService *meeting.Service

	tracker := roster.NewTracker(roster.OnGone(func(room, identity string) {
		switch (livekit.MembershipEvent{Room: room}).RoomKind() {
		case livekit.CallRoomPrefix:
			callService.HandleRoomEvent(room, identity)
		case livekit.MeetingRoomPrefix:
			meetingService.HandleRoomEvent(room, identity)
		}
	}))

	userRepo := user.NewRepository(db)
	authRepo := auth.NewRepository(db)
	chatRepo := chat.NewRepository(db)
	callRepo := call.NewRepository(db)
	meetingRepo := meeting.NewRepository(db)
	pushRepo := push.NewRepository(db)

	userService := user.NewService(userRepo)
	authService := auth.NewService(authRepo, userRepo, cfg.JWT)
	chatService := chat.NewService(chatRepo)

	var pushService *push.Service
	var callPush call.PushSender
	if cfg.Push.FirebaseCredentialsPath != "" {
		messenger, err := push.NewFirebaseMessenger(cfg.Push.FirebaseCredentialsPath, cfg.Push.FirebaseProjectID)
		if err != nil {
			log.Fatal("Failed to initialize push messaging: ", err)
		}
		pushService = push.NewService(pushRepo, messenger, log)
		callPush = pushService
	}

	var mailer call.MissedCallMailer
	var invites meeting.InviteMailer
	if cfg.SMTP.Host != "" {
		mailService := email.NewService(cfg.SMTP)
		mailer = mailService
		invites = mailService
	}

	callService = call.NewService(callRepo, userRepo, lk, hub, chatService, callPush, mailer, cfg.Call, log)
	meetingService = meeting.NewService(meetingRepo, userRepo, lk, hub, tracker, invites, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go callService.Run(ctx)
	go meetingService.Run(ctx)
	if pushService != nil {
		go pushService.Run(ctx)
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler,
		ReadTimeout:  10 * time.Second,
	})

	app.Use(recover.New())
	app.Use(helmet.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(limiter.New(limiter.Config{
		Max:        120,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			// long-lived streams must not count against the window
			return c.Path() == "/api/v1/events" || c.Path() == "/ws/events"
		},
	}))

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	api := app.Group("/api/v1")

	authHandler := auth.NewHandler(authService)
	authGroup := api.Group("/auth")
	authGroup.Post("/register", authHandler.Register)
	authGroup.Post("/login", authHandler.Login)
	authGroup.Post("/refresh", authHandler.RefreshToken)
	authGroup.Post("/logout", auth.RequireAuth(cfg.JWT), authHandler.Logout)

	userHandler := user.NewHandler(userService)
	userGroup := api.Group("/users", auth.RequireAuth(cfg.JWT))
	userGroup.Get("/me", userHandler.GetMe)
	userGroup.Put("/me", userHandler.UpdateProfile)
	userGroup.Get("/:id", userHandler.GetUser)

	callHandler := call.NewHandler(callService)
	callGroup := api.Group("/calls", auth.RequireAuth(cfg.JWT))
	callGroup.Post("/initiate", callHandler.InitiateCall)
	callGroup.Get("/incoming", callHandler.PollIncoming)
	callGroup.Get("/active", callHandler.GetActiveCall)
	callGroup.Get("/history", callHandler.GetCallHistory)
	callGroup.Post("/:id/answer", callHandler.AnswerCall)
	callGroup.Post("/:id/decline", callHandler.DeclineCall)
	callGroup.Post("/:id/end", callHandler.EndCall)
	callGroup.Get("/:id", callHandler.GetCallStatus)

	meetingHandler := meeting.NewHandler(meetingService, tracker)
	meetingGroup := api.Group("/meetings", auth.RequireAuth(cfg.JWT))
	meetingGroup.Post("/", meetingHandler.CreateMeeting)
	meetingGroup.Get("/history", meetingHandler.GetMeetingHistory)
	meetingGroup.Post("/:id/join", meetingHandler.JoinMeeting)
	meetingGroup.Post("/:id/leave", meetingHandler.LeaveMeeting)
	meetingGroup.Post("/:id/end", meetingHandler.EndMeeting)
	meetingGroup.Post("/:id/hand", meetingHandler.ToggleHandRaise)
	meetingGroup.Post("/:id/reaction", meetingHandler.SendReaction)
	meetingGroup.Post("/:id/invite", meetingHandler.InviteParticipant)
	meetingGroup.Post("/:id/participants/:userId/admit", meetingHandler.AdmitParticipant)
	meetingGroup.Post("/:id/participants/:userId/decline", meetingHandler.DeclineParticipant)
	meetingGroup.Get("/:id/participants", meetingHandler.ListParticipants)
	meetingGroup.Get("/:id/roster", meetingHandler.GetRoomState)
	meetingGroup.Get("/:id", meetingHandler.GetMeeting)

	chatHandler := chat.NewHandler(chatService)
	chatGroup := api.Group("/conversations", auth.RequireAuth(cfg.JWT))
	chatGroup.Get("/:id/messages", chatHandler.GetMessages)

	if pushService != nil {
		pushHandler := push.NewHandler(pushService)
		pushGroup := api.Group("/push", auth.RequireAuth(cfg.JWT))
		pushGroup.Post("/register", pushHandler.RegisterToken)
		pushGroup.Post("/deactivate", pushHandler.DeactivateToken)
	}

	// Event stream, SSE primary, WebSocket kept for older clients.
	api.Get("/events", auth.RequireAuth(cfg.JWT), hub.SSEHandler())
	app.Get("/ws/events", auth.RequireAuth(cfg.JWT), websocket.New(hub.HandleWebSocket))

	// LiveKit posts membership changes here; the tracker debounces departures
	// before the OnGone dispatch above acts on them.
	app.Post("/webhooks/livekit", lk.WebhookHandler(func(ev livekit.MembershipEvent) {
		switch ev.Kind {
		case livekit.EventParticipantJoined:
			tracker.HandleJoin(ev.Room, ev.Identity, ev.Name)
		case livekit.EventParticipantLeft:
			tracker.HandleLeave(ev.Room, ev.Identity)
		case livekit.EventTrackPublished, livekit.EventTrackUnpublished:
			tracker.HandleTrackChange(ev.Room, ev.Identity, ev.Track, ev.Kind == livekit.EventTrackPublished)
		case livekit.EventRoomFinished:
			tracker.RoomFinished(ev.Room)
		}
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	go func() {
		if err := app.Listen(":" + cfg.AppPort); err != nil {
			log.Fatal("Failed to start server: ", err)
		}
	}()
	log.Infof("Server listening on :%s", cfg.AppPort)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown: ", err)
	}

	log.Info("Server shutdown complete")
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"success": false,
		"error":   message,
	})
}
