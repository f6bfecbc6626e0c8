package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"toolgrid.org/internal/access"
	"toolgrid.org/internal/audit"
	"toolgrid.org/internal/httpapi"
	"toolgrid.org/internal/ids"
	"toolgrid.org/internal/obs"
	"toolgrid.org/internal/store/memory"
	"toolgrid.org/internal/store/pg"
	"toolgrid.org/internal/stream"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	var (
		store access.Store
		probe httpapi.ReadyProbe
	)
	if dsn := os.Getenv("TOOLGRID_PG_DSN"); dsn != "" {
		pgStore, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer pgStore.Close()
		store = pgStore
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
	} else {
		log.Println("TOOLGRID_PG_DSN not set, using in-memory store")
		store = memory.New()
	}

	events := stream.New()
	recorder := audit.NewRecorder(audit.MultiSink{audit.LogSink{}, events})

	resolver, err := access.NewResolver(store)
	if err != nil {
		log.Fatalf("resolver: %v", err)
	}
	members, err := access.NewMembershipService(store, recorder)
	if err != nil {
		log.Fatalf("membership: %v", err)
	}
	grants, err := access.NewGrantService(store, recorder)
	if err != nil {
		log.Fatalf("grants: %v", err)
	}

	if err := bootstrapSuperAdmin(context.Background(), store); err != nil {
		log.Fatalf("bootstrap: %v", err)
	}

	api := httpapi.New(httpapi.Deps{
		Store:      store,
		Resolver:   resolver,
		Members:    members,
		Grants:     grants,
		Recorder:   recorder,
		Events:     events,
		ReadyProbe: probe,
		Version:    version,
	})

	handler := httpapi.RequestID(
		httpapi.SecurityHeaders(
			httpapi.LoggingJSON(
				httpapi.MaxBodyBytes(
					httpapi.RateLimit(api.Handler(), 50, 25),
					1<<20,
				),
			),
		),
	)

	addr := os.Getenv("TOOLGRID_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting toolgrid-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}

// bootstrapSuperAdmin provisions the initial super_admin account from the
// environment. Every other account is created through the API, which needs
// an authenticated actor, so a fresh deployment starts here.
func bootstrapSuperAdmin(ctx context.Context, store access.Store) error {
	email := strings.TrimSpace(os.Getenv("TOOLGRID_BOOTSTRAP_EMAIL"))
	password := os.Getenv("TOOLGRID_BOOTSTRAP_PASSWORD")
	if email == "" || password == "" {
		return nil
	}
	if _, err := store.Users(ctx).FindByEmail(ctx, email); err == nil {
		return nil
	}
	hash, err := access.HashPassword(password)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	user := &access.User{
		ID:           ids.New(),
		Email:        strings.ToLower(email),
		Role:         access.RoleSuperAdmin,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := store.Users(ctx).Create(ctx, user); err != nil {
		return err
	}
	log.Printf("bootstrapped super_admin %s", user.Email)
	return nil
}
