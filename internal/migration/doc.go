// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 migration 管理检查点表（workflow_runs、node_checkpoints）的结构迁移，
支持 PostgreSQL、MySQL 与 SQLite，基于 golang-migrate 实现。

迁移文件按方言内嵌在 migrations/<dialect>/ 下，表结构与 checkpoint
包中 GormStore 的模型一致。生产部署应先执行 nodeflow migrate up，
再以 database.auto_migrate=false 启动服务。

# 核心类型

  - Migrator / DefaultMigrator：Up、Down、Steps、Goto、Force、Version、
    Status、Info 等操作。
  - Config：数据库类型、连接串、版本表名与锁超时。
  - CLI：nodeflow migrate 子命令的终端输出层，Run 按子命令名分发。

# 工厂函数

NewMigratorFromConfig 与 NewMigratorFromDatabaseConfig 从 config.Config
的 database 段构造迁移器；DSN 字段优先，否则按 host/port/name 拼接。
*/
package migration
