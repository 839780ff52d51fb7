// internal/service/inventory/infrastructure/mysql.go
package infrastructure

import (
	"fmt"

	driver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// BuildDSN 构造 MySQL 连接串。parseTime 必须打开，
// 否则 carts 表的时间列会被扫成 []byte。
func BuildDSN(addr, user, password, database string) string {
	cfg := driver.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = addr
	cfg.User = user
	cfg.Passwd = password
	cfg.DBName = database
	cfg.ParseTime = true
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

// NewDB 建立 GORM 的 MySQL 连接
func NewDB(addr, user, password, database string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(BuildDSN(addr, user, password, database)), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mysql at %s: %w", addr, err)
	}
	return db, nil
}

// AutoMigrate 创建或更新预约引擎需要的三张表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&ProductModel{}, &CartModel{}, &CartItemModel{})
}
