// Package logger tracks per-request progress through the analytical
// pipeline's phases (decomposition, per-sub-question planning/generation/
// execution, scoring, synthesis), printed the way the teacher's
// phase/task progress printer does. Generalized from a fixed
// totalTasks batch count to an open-ended set of named sub-question
// tasks, since a request's sub-question count is only known after
// decomposition runs.
package logger

import (
	"fmt"
	"sync"
	"time"
)

// Logger is a request-scoped progress tracker. The zero value is not
// usable; construct with New. A nil *Logger is safe to call methods on
// and is a no-op, so callers can wire it in optionally.
type Logger struct {
	mu           sync.Mutex
	startTime    time.Time
	currentPhase string
	tasks        map[string]*TaskProgress
	order        []string
}

// TaskProgress records one named task's lifecycle within the current
// phase (e.g. one sub-question's "generate" step).
type TaskProgress struct {
	Name      string
	Status    string // "running", "completed", "failed"
	StartTime time.Time
	EndTime   time.Time
	Error     string
}

// New creates a request-scoped Logger.
func New() *Logger {
	return &Logger{startTime: time.Now(), tasks: make(map[string]*TaskProgress)}
}

// SetPhase announces a new top-level phase (e.g. "Decomposing question",
// "Synthesizing answer").
func (l *Logger) SetPhase(phase string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.currentPhase = phase
	fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("📍 %s\n", phase)
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
}

// StartTask begins tracking a named task within the current phase.
func (l *Logger) StartTask(name string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tasks[name] = &TaskProgress{Name: name, Status: "running", StartTime: time.Now()}
	l.order = append(l.order, name)
	fmt.Printf("[%s] 🔄 started\n", name)
}

// CompleteTask marks a task as completed and prints its duration.
func (l *Logger) CompleteTask(name string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	task, ok := l.tasks[name]
	if !ok {
		return
	}
	task.Status = "completed"
	task.EndTime = time.Now()
	fmt.Printf("[%s] ✓ completed (%.2fs)\n", name, task.EndTime.Sub(task.StartTime).Seconds())
}

// FailTask marks a task as failed, recording err's message.
func (l *Logger) FailTask(name string, err error) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	task, ok := l.tasks[name]
	if !ok {
		return
	}
	task.Status = "failed"
	task.EndTime = time.Now()
	task.Error = err.Error()
	fmt.Printf("[%s] ✗ failed: %v\n", name, err)
}

// PrintSummary prints a final accounting of every tracked task and the
// request's total wall-clock time.
func (l *Logger) PrintSummary() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var completed, failed int
	for _, task := range l.tasks {
		switch task.Status {
		case "completed":
			completed++
		case "failed":
			failed++
		}
	}

	fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("📊 Request summary\n")
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	fmt.Printf("Tasks: %d\n", len(l.tasks))
	fmt.Printf("✓ Completed: %d\n", completed)
	fmt.Printf("✗ Failed: %d\n", failed)
	fmt.Printf("⏱️  Total time: %s\n", formatDuration(time.Since(l.startTime)))

	if failed > 0 {
		fmt.Printf("\n❌ Failed tasks:\n")
		for _, name := range l.order {
			if task := l.tasks[name]; task.Status == "failed" {
				fmt.Printf("  - %s: %s\n", task.Name, task.Error)
			}
		}
	}
	fmt.Printf("\n")
}

// Info prints an informational line.
func (l *Logger) Info(format string, args ...any) {
	if l == nil {
		return
	}
	fmt.Printf("ℹ️  "+format+"\n", args...)
}

// Warn prints a warning line.
func (l *Logger) Warn(format string, args ...any) {
	if l == nil {
		return
	}
	fmt.Printf("⚠️  "+format+"\n", args...)
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "N/A"
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
