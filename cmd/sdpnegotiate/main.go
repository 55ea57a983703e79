package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/arzzra/sdp_negotiator/pkg/config"
	"github.com/arzzra/sdp_negotiator/pkg/session_manager"
)

func main() {
	var (
		configPath = flag.String("config", "", "Путь к файлу конфигурации (yaml, json, toml)")
		mode       = flag.String("mode", "offer", "Режим: offer, answer")
		input      = flag.String("in", "-", "Файл с удаленным offer для режима answer, - для stdin")
		sessionID  = flag.String("session", "cli", "Идентификатор сессии")
		hold       = flag.Bool("hold", false, "Локальное удержание при создании offer")
		timeout    = flag.Duration("timeout", 5*time.Second, "Таймаут согласования")
	)
	flag.Parse()

	if err := run(*configPath, *mode, *input, *sessionID, *hold, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, mode, input, sessionID string, hold bool, timeout time.Duration) error {
	file, err := config.Load(configPath)
	if err != nil {
		return err
	}

	managerConfig, err := file.ManagerConfig()
	if err != nil {
		return err
	}
	registry, err := file.DeviceRegistry()
	if err != nil {
		return err
	}

	manager, err := session_manager.NewManager(managerConfig, session_manager.Dependencies{
		Devices:       registry,
		Preferences:   file.BuildPreferences(),
		LoggerFactory: file.LoggerFactory(os.Stderr),
	})
	if err != nil {
		return err
	}
	defer manager.Shutdown()

	session, err := manager.CreateSession(sessionID)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var text string
	switch mode {
	case "offer":
		session.SetLocallyOnHold(hold)
		text, err = session.CreateOffer(ctx)
	case "answer":
		offer, readErr := readInput(input)
		if readErr != nil {
			return readErr
		}
		text, err = session.ProcessOffer(ctx, offer)
	default:
		return fmt.Errorf("неизвестный режим %q, доступные режимы: offer, answer", mode)
	}
	if err != nil {
		return err
	}

	fmt.Print(text)
	return nil
}

func readInput(path string) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("не удалось прочитать offer: %w", err)
	}
	return string(data), nil
}
