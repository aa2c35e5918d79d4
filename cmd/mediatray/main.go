// mediatray is a system tray applet: it shows what's playing as desktop
// notifications and exposes playback controls in the tray menu.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/getlantern/systray"

	"github.com/krosov/mediasessions/pkg/mediasessions"
	"github.com/krosov/mediasessions/pkg/mediasessions/util"
)

func main() {
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	logger, err := mediasessions.NewLogger(*verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}

	notifier, err := mediasessions.NewToastNotifier(logger)
	if err != nil {
		logger.Fatalw("Failed to create toast notifier", "error", err)
	}

	config, err := mediasessions.NewConfig(logger)
	if err != nil {
		logger.Fatalw("Failed to create config", "error", err)
	}
	if err := config.Load(); err != nil {
		notifier.Notify("Invalid configuration!", "Please check the mediasessions logs for more details.")
		logger.Fatalw("Failed to load config", "error", err)
	}
	go config.WatchConfigFileChanges()

	engine, err := mediasessions.NewWithOptions(logger, config.Engine)
	if err != nil {
		logger.Fatalw("Failed to create media sessions engine", "error", err)
	}

	stopChannel := util.SetupCloseHandler()
	events := engine.Subscribe()
	reloads := config.SubscribeToChanges()

	onReady := func() {
		logger.Debug("Tray instance ready")

		systray.SetTemplateIcon(trayIcon, trayIcon)
		systray.SetTitle("Media Sessions")
		systray.SetTooltip("Media Sessions")

		playPause := systray.AddMenuItem("Play / Pause", "Toggle playback on the active session")
		next := systray.AddMenuItem("Next track", "Skip to the next track")
		previous := systray.AddMenuItem("Previous track", "Skip to the previous track")

		systray.AddSeparator()
		editConfig := systray.AddMenuItem("Edit configuration", "Open the config file in an editor")

		systray.AddSeparator()
		versionInfo := systray.AddMenuItem(fmt.Sprintf("mediasessions v%s", mediasessions.Version), "")
		versionInfo.Disable()

		systray.AddSeparator()
		quit := systray.AddMenuItem("Quit", "Stop the applet and quit")

		go func() {
			for {
				select {
				case <-quit.ClickedCh:
					logger.Info("Quit menu item clicked, stopping")
					systray.Quit()
					return

				case <-playPause.ClickedCh:
					if err := engine.PlayPause(); err != nil {
						logger.Warnw("Failed to toggle playback", "error", err)
					}

				case <-next.ClickedCh:
					if err := engine.Next(); err != nil {
						logger.Warnw("Failed to skip to next track", "error", err)
					}

				case <-previous.ClickedCh:
					if err := engine.Previous(); err != nil {
						logger.Warnw("Failed to skip to previous track", "error", err)
					}

				case <-editConfig.ClickedCh:
					logger.Info("Edit config menu item clicked, opening config for editing")

					editor := "notepad.exe"
					if util.Linux() {
						if editorEnv := os.Getenv("EDITOR"); editorEnv != "" {
							editor = editorEnv
						} else {
							editor = "xdg-open"
						}
					}

					if err := util.OpenExternal(logger, editor, mediasessions.UserConfigFilepath); err != nil {
						logger.Warnw("Failed to open config file for editing", "error", err)
					}

				case ev, ok := <-events:
					if !ok {
						return
					}
					if ev.Kind == mediasessions.EventMetadataChanged && ev.Info != nil {
						notifier.Notify("Now playing", ev.Info.DisplayString())
						systray.SetTooltip(ev.Info.DisplayString())
					}

				case _, ok := <-reloads:
					if !ok {
						return
					}
					notifier.Notify("Configuration reloaded!", "Your changes have been applied.")

				case <-stopChannel:
					logger.Info("Interrupted, stopping")
					systray.Quit()
					return
				}
			}
		}()
	}

	onExit := func() {
		logger.Debug("Tray exited")

		config.StopWatchingConfigFile()
		engine.Unsubscribe(events)
		if err := engine.Close(); err != nil {
			logger.Warnw("Failed to close engine", "error", err)
		}
	}

	logger.Debug("Running in tray")
	systray.Run(onReady, onExit)
}
