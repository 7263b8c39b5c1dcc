package customer

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/chararch/pagebatch/util"
	"github.com/pkg/errors"
)

//Customer a row of the customer table; the order tags define the exported line
type Customer struct {
	ID     int64  `gorm:"primaryKey"`
	Name   string `order:"0" header:"NAME"`
	Age    int    `order:"1" header:"AGE"`
	Gender string `order:"2" header:"GENDER"`
}

var columns = []string{"id", "name", "age", "gender"}

func mapRow(rows *sql.Rows) (interface{}, error) {
	c := Customer{}
	err := rows.Scan(&c.ID, &c.Name, &c.Age, &c.Gender)
	return c, err
}

func rowArgs(item interface{}) ([]interface{}, error) {
	c, ok := item.(Customer)
	if !ok {
		return nil, errors.Errorf("not a customer:%T", item)
	}
	return []interface{}{c.ID, c.Name, c.Age, c.Gender}, nil
}

func customerKey(item interface{}) string {
	return fmt.Sprintf("%020d", item.(Customer).ID)
}

//SampleCustomers the customers loaded by InitSchema
func SampleCustomers() []Customer {
	return []Customer{
		{ID: 1, Name: "Alice", Age: 15, Gender: "F"},
		{ID: 2, Name: "Bob", Age: 25, Gender: "M"},
		{ID: 3, Name: "Carol", Age: 35, Gender: "F"},
		{ID: 4, Name: "Dave", Age: 45, Gender: "M"},
		{ID: 5, Name: "Erin", Age: 55, Gender: "F"},
	}
}

//InitSchema create the customer tables and load the sample customers when the source table is empty
func InitSchema(ctx context.Context, db *sql.DB, placeholder util.Placeholder, table, exportTable string) error {
	for _, t := range []string{table, exportTable} {
		ddl := fmt.Sprintf("create table if not exists %s (id bigint not null, name varchar(255) not null, age int not null, gender varchar(16) not null)", t)
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return errors.Wrapf(err, "create table:%v", t)
		}
	}
	var count int
	if err := db.QueryRowContext(ctx, fmt.Sprintf("select count(*) from %s", table)).Scan(&count); err != nil {
		return errors.Wrapf(err, "count %v", table)
	}
	if count > 0 {
		return nil
	}
	insert := util.Rebind(placeholder, fmt.Sprintf("insert into %s(id, name, age, gender) values(?, ?, ?, ?)", table))
	for _, c := range SampleCustomers() {
		if _, err := db.ExecContext(ctx, insert, c.ID, c.Name, c.Age, c.Gender); err != nil {
			return errors.Wrapf(err, "insert customer:%v", c.ID)
		}
	}
	return nil
}
