package app

import (
	"io"
	"log/slog"
	"os"

	fyneapp "fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/data/binding"

	"yashubustudio/jsonmanager/jsonmanager"
)

// Run loads preferences and starts the desktop UI.
func Run() error {
	logBind := binding.NewString()
	capture := newLogCapture(logBind, 300)
	logger := jsonmanager.NewTextLogger(io.MultiWriter(os.Stdout, capture), slog.LevelInfo)

	prefs := jsonmanager.NewPreferencesFile("")
	cfg, found, err := prefs.Load()
	if err != nil {
		logger.Warn("preferences unreadable, using defaults", "path", prefs.Path, "error", err)
	} else if found {
		logger.Info("loaded preferences", "path", prefs.Path)
	}

	svc := jsonmanager.NewService(jsonmanager.NewFileRecordStore(), logger)

	a := fyneapp.NewWithID(fyneAppID)
	u := buildUI(a, svc, prefs, logger, cfg, logBind)
	u.w.ShowAndRun()
	return nil
}
