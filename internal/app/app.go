package app

import (
	"database/sql"

	"gofer/internal/config"
	"gofer/internal/db"
	"gofer/internal/dispatch"
	"gofer/internal/engine"
	"gofer/internal/migrate"
	"gofer/internal/report"
)

// App bundles the opened store with the components the CLI and server
// share.
type App struct {
	DB         *sql.DB
	Engine     engine.Engine
	Config     *config.Config
	Dispatcher *dispatch.Dispatcher
	Reporter   report.Reporter
}

// Open opens the workspace database, applies migrations, loads the
// optional gofer.yml, and wires the engine and dispatcher.
func Open(workspace string) (*App, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		conn.Close()
		return nil, err
	}
	e := engine.New(conn)
	return &App{
		DB:         conn,
		Engine:     e,
		Config:     cfg,
		Dispatcher: dispatch.New(e, cfg),
		Reporter:   report.Reporter{DB: conn},
	}, nil
}

func (a *App) Close() error {
	return a.DB.Close()
}
