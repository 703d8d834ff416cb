// Package persistence archives finished runs into a sqlite database so the
// status and report commands can list past runs without re-parsing every
// run directory.
package persistence

import (
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kenpal-inc/convergent/internal/infrastructure/persistence/models"
)

// History wraps the archive database.
type History struct {
	db *gorm.DB
}

// Open connects to (and migrates) the archive at dbPath.
func Open(dbPath string) (*History, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if err := db.AutoMigrate(&models.RunModel{}, &models.TaskModel{}); err != nil {
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return &History{db: db}, nil
}

// ArchiveRun stores one finished run and its tasks. Re-archiving the same
// run id replaces the earlier record.
func (h *History) ArchiveRun(run models.RunModel, tasks []models.TaskModel) error {
	return h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ?", run.ID).Delete(&models.TaskModel{}).Error; err != nil {
			return err
		}
		if err := tx.Save(&run).Error; err != nil {
			return err
		}
		for i := range tasks {
			tasks[i].RunID = run.ID
			tasks[i].ID = 0
		}
		if len(tasks) == 0 {
			return nil
		}
		return tx.Create(&tasks).Error
	})
}

// RecentRuns lists the most recent n archived runs, newest first.
func (h *History) RecentRuns(n int) ([]models.RunModel, error) {
	var runs []models.RunModel
	err := h.db.Order("started_at desc").Limit(n).Find(&runs).Error
	return runs, err
}

// TasksForRun lists the archived tasks of one run.
func (h *History) TasksForRun(runID string) ([]models.TaskModel, error) {
	var tasks []models.TaskModel
	err := h.db.Where("run_id = ?", runID).Order("task_id").Find(&tasks).Error
	return tasks, err
}
