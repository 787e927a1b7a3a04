package sqlsource

import (
	"errors"

	"github.com/go-sql-driver/mysql"

	serrors "github.com/arkilian/surrogate/internal/errors"
)

// mysqlDSN forces parseTime so DATETIME columns scan as time.Time.
func mysqlDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", err
	}
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}

func mysqlViolation(err error) string {
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return ""
	}
	switch me.Number {
	case 1062, 1586:
		return serrors.CodeUniqueViolation
	case 1048:
		return serrors.CodeNullNotAllowed
	case 1216, 1217, 1451, 1452:
		return serrors.CodeFKViolation
	}
	return ""
}
