// cmd/server/main.go
package main

import (
	"context"
	"os"

	"github.com/urfave/cli"

	"github.com/Corphon/DramaForge/internal/app"
	"github.com/Corphon/DramaForge/internal/config"
	"github.com/Corphon/DramaForge/internal/utils"
)

const (
	portFlag     = "port"
	dataDirFlag  = "data-dir"
	dbPathFlag   = "db-path"
	logLevelFlag = "log-level"
	debugFlag    = "debug"
)

func main() {
	cliApp := cli.NewApp()
	cliApp.Name = "dramaforge"
	cliApp.Usage = "short drama agent and grid storyboard server"
	cliApp.Version = "0.1.0"
	configure(cliApp)

	if err := cliApp.Run(os.Args); err != nil {
		utils.GetLogger().Fatal("command failed", map[string]interface{}{"error": err.Error()})
	}
}

func configure(c *cli.App) {
	c.Commands = []cli.Command{makeServeCMD(), makeMigrateCMD()}
}

func registerFlags(f []cli.Flag) []cli.Flag {
	return append(f,
		cli.StringFlag{
			Name:   portFlag,
			Usage:  "http listen port",
			EnvVar: "PORT",
		},
		cli.StringFlag{
			Name:   dataDirFlag,
			Usage:  "data directory (config.json, sqlite, local files)",
			EnvVar: "DATA_DIR",
		},
		cli.StringFlag{
			Name:   dbPathFlag,
			Usage:  "sqlite database path",
			EnvVar: "DB_PATH",
		},
		cli.StringFlag{
			Name:   logLevelFlag,
			Usage:  "log level (debug, info, warn, error)",
			EnvVar: "LOG_LEVEL",
		},
		cli.BoolFlag{
			Name:   debugFlag,
			Usage:  "enable debug mode",
			EnvVar: "DEBUG_MODE",
		},
	)
}

// loadConfig 环境变量配置，命令行参数覆盖
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if v := c.String(portFlag); v != "" {
		cfg.Port = v
	}
	if v := c.String(dataDirFlag); v != "" {
		cfg.DataDir = v
	}
	if v := c.String(dbPathFlag); v != "" {
		cfg.DBPath = v
	}
	if v := c.String(logLevelFlag); v != "" {
		cfg.LogLevel = v
	}
	if c.Bool(debugFlag) {
		cfg.DebugMode = true
	}
	return cfg, nil
}

func makeServeCMD() cli.Command {
	return cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Serves http and websocket api",
		Flags:   registerFlags(nil),
		Action:  serve,
	}
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := app.Initialize(cfg); err != nil {
		return err
	}
	utils.GetLogger().Info("starting server", map[string]interface{}{
		"port":  cfg.Port,
		"blob":  cfg.BlobBackend,
		"debug": cfg.DebugMode,
	})
	return app.Run()
}

func makeMigrateCMD() cli.Command {
	return cli.Command{
		Name:    "migrate",
		Aliases: []string{"m"},
		Usage:   "Migrates database and seeds default prompts",
		Flags:   registerFlags(nil),
		Action:  migrate,
	}
}

func migrate(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return err
	}
	db, err := app.OpenDatabase(context.Background(), cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	utils.GetLogger().Info("database ready", map[string]interface{}{"path": cfg.DBPath})
	return nil
}
