package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

var (
	logFile   *os.File
	logMutex  sync.Mutex
	logPath   string
	crashPath string
)

// Initialize sets up the logging system. Log files are created under
// baseDir/logs; when baseDir is empty the directory of the executable is
// used, falling back to the temp directory.
func Initialize(baseDir string) error {
	if baseDir == "" {
		exePath, err := os.Executable()
		if err != nil {
			return err
		}
		baseDir = filepath.Dir(exePath)
	}

	logsDir := filepath.Join(baseDir, "logs")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		logsDir = filepath.Join(os.TempDir(), "bankrec_logs")
		os.MkdirAll(logsDir, 0755)
	}

	// Keep the last 10 days of logs
	cleanupOldLogs(logsDir, 10)

	timestamp := time.Now().Format("2006-01-02")
	logPath = filepath.Join(logsDir, fmt.Sprintf("bankrec_%s.log", timestamp))
	crashPath = filepath.Join(logsDir, fmt.Sprintf("bankrec_crash_%s.log", timestamp))

	var err error
	logFile, err = os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		fmt.Printf("Failed to open log file %s: %v\n", logPath, err)
		return err
	}

	WriteInfo("Application", "Starting BankRec")
	WriteInfo("Application", fmt.Sprintf("Log file: %s", logPath))
	WriteInfo("Application", fmt.Sprintf("OS: %s, Arch: %s", runtime.GOOS, runtime.GOARCH))

	return nil
}

// Close closes the log file
func Close() {
	if logFile != nil {
		WriteInfo("Application", "Shutting down BankRec")
		logFile.Close()
		logFile = nil
	}
}

// WriteInfo writes an info message to the log
func WriteInfo(module, message string) {
	write("INFO", module, message)
}

// WriteError writes an error message to the log
func WriteError(module, message string) {
	write("ERROR", module, message)
}

// WriteWarning writes a warning message to the log
func WriteWarning(module, message string) {
	write("WARN", module, message)
}

// WriteDebug writes a debug message to the log
func WriteDebug(module, message string) {
	write("DEBUG", module, message)
}

// WriteCrash writes crash information to both logs
func WriteCrash(module string, err interface{}, stackTrace []byte) {
	write("CRASH", module, fmt.Sprintf("CRASH in %s: %v", module, err))

	logMutex.Lock()
	defer logMutex.Unlock()

	crashFile, err2 := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err2 != nil {
		return
	}
	defer crashFile.Close()

	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	crashFile.WriteString("\n========================================\n")
	crashFile.WriteString(fmt.Sprintf("[%s] CRASH REPORT\n", timestamp))
	crashFile.WriteString(fmt.Sprintf("Module: %s\n", module))
	crashFile.WriteString(fmt.Sprintf("Error: %v\n", err))
	crashFile.WriteString(fmt.Sprintf("Stack Trace:\n%s\n", stackTrace))
	crashFile.WriteString("========================================\n")
}

// RecoverPanic recovers from a panic and logs it
func RecoverPanic(module string) {
	if r := recover(); r != nil {
		stackBuf := make([]byte, 4096)
		stackSize := runtime.Stack(stackBuf, false)
		WriteCrash(module, r, stackBuf[:stackSize])
	}
}

// GetLogPath returns the current log file path
func GetLogPath() string {
	return logPath
}

// write is the internal function that actually writes to the log
func write(level, module, message string) {
	logMutex.Lock()
	defer logMutex.Unlock()

	if logFile == nil {
		// Log file isn't open, fall back to the console
		fmt.Printf("[%s] %s: %s - %s\n", time.Now().Format("15:04:05"), level, module, message)
		return
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	logEntry := fmt.Sprintf("[%s] [%s] [%s] %s\n", timestamp, level, module, message)

	if _, writeErr := logFile.WriteString(logEntry); writeErr != nil {
		fmt.Printf("Failed to write to log: %v\n", writeErr)
	}
	logFile.Sync()
}

// cleanupOldLogs removes log files older than the specified number of days
func cleanupOldLogs(logsDir string, keepDays int) {
	cutoff := time.Now().AddDate(0, 0, -keepDays)

	entries, err := os.ReadDir(logsDir)
	if err != nil {
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || !isLogFile(entry.Name()) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		if info.ModTime().Before(cutoff) {
			os.Remove(filepath.Join(logsDir, entry.Name()))
		}
	}
}

// isLogFile checks if a filename looks like one of our log files
func isLogFile(name string) bool {
	const prefix = "bankrec_"
	return len(name) >= len(prefix) && name[:len(prefix)] == prefix
}
