/*
Package log builds the zerolog logger used across rcluster.

Output goes to the console, human readable by default or JSON with
Config.JSONOutput. When Config.FilePath is set every line is also appended
as JSON to that file. If the file cannot be opened, FallbackFilePath in the
working directory is tried before giving up.

	logger, closer, err := log.New(log.Config{
		Level:    log.InfoLevel,
		FilePath: log.DefaultFilePath,
	})
	if err != nil {
		return err
	}
	defer closer.Close()

	logger = log.WithComponent(logger, "deploy")
	log.WithHost(logger, "10.0.0.5").Info().Int("port", 7000).Msg("Instance started")

Loggers are passed explicitly. Each component derives its own child with a
"component" field, and per-host work adds a "host" field.
*/
package log
