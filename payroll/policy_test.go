package payroll_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/payroll"
)

func TestPayPolicy_HourlyRateTimesHours(t *testing.T) {
	emp := hourlyEmployee("Ada", "Lovelace", "20.00")

	policy, err := emp.PayPolicy()
	require.NoError(t, err)

	assert.Equal(t, payroll.WorkerHourly, policy.WorkerType())
	assert.True(t, policy.ComputeGross(dec("10")).Equal(dec("200.00")))
}

func TestPayPolicy_DailyRateTimesDays(t *testing.T) {
	emp := dailyEmployee("Grace", "Hopper", "50.00")

	policy, err := emp.PayPolicy()
	require.NoError(t, err)

	assert.Equal(t, payroll.WorkerDaily, policy.WorkerType())
	assert.True(t, policy.ComputeGross(dec("5")).Equal(dec("250.00")))
}

func TestPayPolicy_UsesRateMatchingWorkerType(t *testing.T) {
	// GIVEN: Both rates populated on an hourly employee
	emp := hourlyEmployee("Ada", "Lovelace", "20.00")
	emp.DailyRate = nullDec("999.00")

	// WHEN/THEN: Only the hourly rate and the hours field count
	policy, err := emp.PayPolicy()
	require.NoError(t, err)

	entry := payroll.WorkEntry{HoursWorked: nullDec("3"), DaysWorked: nullDec("7")}
	assert.True(t, policy.Quantity(entry).Equal(dec("3")))
	assert.True(t, payroll.GrossFor(policy, []payroll.WorkEntry{entry}).Equal(dec("60")))
}

func TestPayPolicy_NullRateIsZero(t *testing.T) {
	emp := payroll.Employee{WorkerType: payroll.WorkerDaily}

	policy, err := emp.PayPolicy()
	require.NoError(t, err)

	assert.True(t, policy.ComputeGross(dec("4")).IsZero())
}

func TestPayPolicy_NullQuantitiesCountAsZero(t *testing.T) {
	policy := payroll.Hourly{Rate: dec("12.50")}
	entries := []payroll.WorkEntry{
		{HoursWorked: nullDec("2.5")},
		{},
		{HoursWorked: decimal.NullDecimal{}},
		{HoursWorked: nullDec("1.5")},
	}

	assert.True(t, payroll.GrossFor(policy, entries).Equal(dec("50.00")))
}

func TestPayPolicy_UnknownWorkerTypeIsError(t *testing.T) {
	emp := payroll.Employee{ID: 7, WorkerType: "salaried"}

	policy, err := emp.PayPolicy()

	assert.Nil(t, policy)
	assert.ErrorIs(t, err, payroll.ErrUnknownWorkerType)
}

func TestPayPolicy_DecimalPrecisionPreserved(t *testing.T) {
	policy := payroll.Hourly{Rate: dec("17.33")}

	gross := policy.ComputeGross(dec("7.75"))

	assert.Equal(t, "134.3075", gross.String())
}
