// Package recorder stores polled converter readings in a SQL database.
package recorder

import (
	"database/sql"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"github.com/robotalks/minghe.go/pkg/minghe"
)

// Sample is one stored poll.
type Sample struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	Run         string    `gorm:"index;size:36" json:"run"`
	Device      string    `gorm:"index;size:64" json:"device"`
	Voltage     uint16    `json:"voltage"`
	Current     uint16    `json:"current"`
	Watts       uint32    `json:"watts"`
	Output      bool      `json:"output"`
	Limiting    uint8     `json:"limiting"`
	Temperature uint16    `json:"temperature"`
	Charge      uint32    `json:"charge"`
	OnTime      uint32    `json:"on_time"`
	MaxVoltage  uint16    `json:"max_voltage"`
	MaxCurrent  uint16    `json:"max_current"`
	Errors      string    `gorm:"size:1024" json:"errors,omitempty"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
}

// TableName specifies the table name for GORM.
func (Sample) TableName() string {
	return "samples"
}

// Status converts the sample back to a minghe.Status.
func (s *Sample) Status() *minghe.Status {
	return &minghe.Status{
		Voltage:       s.Voltage,
		Current:       s.Current,
		Watts:         s.Watts,
		OutputEnabled: s.Output,
		Limiting:      minghe.LimitingFactor(s.Limiting),
		Temperature:   s.Temperature,
		Charge:        s.Charge,
		OnTime:        s.OnTime,
		MaxVoltage:    s.MaxVoltage,
		MaxCurrent:    s.MaxCurrent,
	}
}

// Recorder appends samples of one device. Each Recorder is a run with its
// own ID.
type Recorder struct {
	Device string
	Run    string

	db *gorm.DB
}

type glogWriter struct{}

func (glogWriter) Printf(format string, args ...interface{}) {
	glog.Warningf(format, args...)
}

// Open connects to the database. A postgres:// DSN selects PostgreSQL,
// anything else is a SQLite file path.
func Open(dsn, device string) (*Recorder, error) {
	var dialector gorm.Dialector
	isPostgres := strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
	if isPostgres {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Dialector{DriverName: "sqlite", DSN: dsn}
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.New(glogWriter{}, logger.Config{
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if !isPostgres {
		if err = configureSQLite(sqlDB); err != nil {
			sqlDB.Close()
			return nil, err
		}
	}
	if err = db.AutoMigrate(&Sample{}); err != nil {
		sqlDB.Close()
		return nil, err
	}
	r := &Recorder{Device: device, Run: uuid.NewString(), db: db}
	glog.Infof("recording %s as run %s", device, r.Run)
	return r, nil
}

func configureSQLite(sqlDB *sql.DB) error {
	// a single writer avoids SQLITE_BUSY
	sqlDB.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			return err
		}
	}
	return nil
}

// Record stores a polled status along with the polling error.
func (r *Recorder) Record(s *minghe.Status, pollErr error, at time.Time) error {
	sample := &Sample{
		Run:         r.Run,
		Device:      r.Device,
		Voltage:     s.Voltage,
		Current:     s.Current,
		Watts:       s.Watts,
		Output:      s.OutputEnabled,
		Limiting:    uint8(s.Limiting),
		Temperature: s.Temperature,
		Charge:      s.Charge,
		OnTime:      s.OnTime,
		MaxVoltage:  s.MaxVoltage,
		MaxCurrent:  s.MaxCurrent,
		CreatedAt:   at,
	}
	if pollErr != nil {
		msg := pollErr.Error()
		if len(msg) > 1024 {
			msg = msg[:1024]
		}
		sample.Errors = msg
	}
	return r.db.Create(sample).Error
}

// Recent returns up to n latest samples of the device, newest first.
func (r *Recorder) Recent(n int) ([]Sample, error) {
	var samples []Sample
	err := r.db.Where("device = ?", r.Device).
		Order("created_at DESC").Order("id DESC").
		Limit(n).Find(&samples).Error
	return samples, err
}

// RunSamples returns all samples of a run, oldest first.
func (r *Recorder) RunSamples(run string) ([]Sample, error) {
	var samples []Sample
	err := r.db.Where("run = ?", run).Order("id").Find(&samples).Error
	return samples, err
}

// Prune deletes samples older than the cut-off and returns the count.
func (r *Recorder) Prune(before time.Time) (int64, error) {
	res := r.db.Where("created_at < ?", before).Delete(&Sample{})
	return res.RowsAffected, res.Error
}

// Close closes the database.
func (r *Recorder) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
