package models

import (
	"database/sql"
	"log"
	"os"
	"strings"
	"time"

	"ScriptToMovie-server/config"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

var DB *sql.DB
var GormDB *gorm.DB

func NewID() string {
	return uuid.NewString()
}

func InitDB() {
	if config.AppConfig == nil {
		log.Fatal("config.AppConfig is nil, call config.InitConfig first")
	}
	dsn := config.AppConfig.MySQL.DSN
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	DB = db
	GormDB, err = gorm.Open(mysql.New(mysql.Config{
		Conn: DB,
	}), &gorm.Config{})
	if err != nil {
		log.Fatalf("GORM init failed: %v", err)
	}

	log.Println("database connected (native SQL + GORM)")

	// Bootstrap schema from doc/sql/ScriptToMovie.sql. Statements are
	// CREATE TABLE IF NOT EXISTS, so re-running is harmless.
	b, err := os.ReadFile("doc/sql/ScriptToMovie.sql")
	if err != nil {
		log.Printf("failed to read schema file (skipping bootstrap): %v", err)
		return
	}
	sqls := strings.Split(string(b), ";")
	for _, s := range sqls {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, err := DB.Exec(s); err != nil {
			log.Printf("schema statement failed: %v ; sql: %s", err, s)
		}
	}
}

// Project CRUD (native SQL, used by the HTTP handlers)

func CreateProject(p *Project) error {
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	_, err := DB.Exec(
		`INSERT INTO project (id, title, script_content, style, status, progress, error_message, warning_count, scene_count, visual_profile, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Title, p.ScriptContent, p.Style, p.Status, p.Progress, p.ErrorMessage, p.WarningCount, p.SceneCount, p.VisualProfile, p.CreatedAt, p.UpdatedAt,
	)
	return err
}

func GetProjectByID(id string) (Project, error) {
	var p Project
	row := DB.QueryRow(`SELECT id, title, script_content, style, status, progress, error_message, warning_count, scene_count, visual_profile, created_at, updated_at FROM project WHERE id = ?`, id)
	var errMsg, profile sql.NullString
	if err := row.Scan(&p.ID, &p.Title, &p.ScriptContent, &p.Style, &p.Status, &p.Progress, &errMsg, &p.WarningCount, &p.SceneCount, &profile, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return p, err
	}
	if errMsg.Valid {
		p.ErrorMessage = errMsg.String
	}
	if profile.Valid {
		p.VisualProfile = profile.String
	}
	return p, nil
}

func DeleteProjectByID(id string) error {
	for _, q := range []string{
		`DELETE FROM generation_task WHERE project_id = ?`,
		`DELETE FROM final_artifact WHERE project_id = ?`,
		`DELETE FROM scene WHERE project_id = ?`,
		`DELETE FROM project WHERE id = ?`,
	} {
		if _, err := DB.Exec(q, id); err != nil {
			return err
		}
	}
	return nil
}

func GetScenesByProjectID(projectID string) ([]Scene, error) {
	rows, err := DB.Query(`SELECT id, project_id, `+"`order`"+`, title, description, setting, characters, dialogue, duration, created_at, updated_at FROM scene WHERE project_id = ? ORDER BY `+"`order`"+` ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Scene
	for rows.Next() {
		var s Scene
		if err := rows.Scan(&s.ID, &s.ProjectId, &s.Order, &s.Title, &s.Description, &s.Setting, &s.Characters, &s.Dialogue, &s.Duration, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
