package migration

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/nodeflow/config"
)

// NewMigratorFromConfig 用应用配置的 database 段创建迁移器
func NewMigratorFromConfig(cfg *config.Config, logger *zap.Logger) (*DefaultMigrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	return NewMigratorFromDatabaseConfig(cfg.Database, logger)
}

// NewMigratorFromDatabaseConfig 显式 DSN 优先，否则由 host/port/name 拼接
func NewMigratorFromDatabaseConfig(dbCfg config.DatabaseConfig, logger *zap.Logger) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(dbCfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("invalid database type: %w", err)
	}

	url, err := DatabaseURLFromConfig(dbType, dbCfg)
	if err != nil {
		return nil, err
	}

	return NewMigrator(&Config{
		DatabaseType: dbType,
		DatabaseURL:  url,
		Logger:       logger,
	})
}

// DatabaseURLFromConfig 返回迁移使用的连接串。
// mysql 的迁移文件含多条语句，连接串上会补 multiStatements=true。
func DatabaseURLFromConfig(dbType DatabaseType, dbCfg config.DatabaseConfig) (string, error) {
	if dsn := strings.TrimSpace(dbCfg.DSN); dsn != "" {
		switch dbType {
		case DatabaseTypeMySQL:
			if !strings.Contains(dsn, "multiStatements=") {
				sep := "?"
				if strings.Contains(dsn, "?") {
					sep = "&"
				}
				dsn += sep + "multiStatements=true"
			}
		case DatabaseTypeSQLite:
			if !strings.HasPrefix(dsn, "file:") {
				dsn = BuildDatabaseURL(dbType, "", 0, dsn, "", "", "")
			}
		}
		return dsn, nil
	}

	switch dbType {
	case DatabaseTypePostgres, DatabaseTypeMySQL:
		return BuildDatabaseURL(dbType, dbCfg.Host, dbCfg.Port, dbCfg.Name, dbCfg.User, dbCfg.Password, dbCfg.SSLMode), nil
	case DatabaseTypeSQLite:
		// sqlite 的 name 是数据库文件路径
		if dbCfg.Name == "" {
			return "", fmt.Errorf("sqlite database path is required")
		}
		return BuildDatabaseURL(dbType, "", 0, dbCfg.Name, "", "", ""), nil
	default:
		return "", fmt.Errorf("unsupported database type: %s", dbType)
	}
}

// NewMigratorFromURL 直接用连接串创建迁移器
func NewMigratorFromURL(dbType, dbURL string, logger *zap.Logger) (*DefaultMigrator, error) {
	dt, err := ParseDatabaseType(dbType)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{DatabaseType: dt, DatabaseURL: dbURL, Logger: logger})
}
