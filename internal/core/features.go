package core

import (
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	TransactionTimeColumn = "trans_date_trans_time"
	DateOfBirthColumn     = "dob"
	AmountColumn          = "amt"
	AgeColumn             = "age"
	CityPopColumn         = "city_pop"
	MerchLongColumn       = "merch_long"
	LabelColumn           = "is_fraud"

	UpsampleSeed = 123
)

var DefaultFeatures = []string{AmountColumn, AgeColumn, CityPopColumn, MerchLongColumn}

// NormalizeLabel strips the quoting debris some exports leave after the label,
// e.g. `1"2020-06-21 12:14:25"`, and parses the leading integer.
func NormalizeLabel(raw string) (int, error) {
	head, _, _ := strings.Cut(raw, `"`)
	label, err := strconv.Atoi(strings.TrimSpace(head))
	if err != nil {
		return 0, fmt.Errorf("invalid label %q", raw)
	}
	return label, nil
}

// Upsample resamples every minority class with replacement until it matches
// the majority class size. Majority rows come first in their original order.
func Upsample(rows [][]string, labels []int, seed int64) ([][]string, []int, error) {
	if len(rows) != len(labels) {
		return nil, nil, fmt.Errorf("rows and labels differ in length: %d != %d", len(rows), len(labels))
	}
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("cannot upsample an empty dataset")
	}

	byClass := map[int][]int{}
	for i, label := range labels {
		byClass[label] = append(byClass[label], i)
	}

	classes := make([]int, 0, len(byClass))
	for label := range byClass {
		classes = append(classes, label)
	}
	sort.Ints(classes)

	majority := classes[0]
	for _, label := range classes[1:] {
		if len(byClass[label]) > len(byClass[majority]) {
			majority = label
		}
	}
	target := len(byClass[majority])

	rng := rand.New(rand.NewSource(seed))

	outRows := make([][]string, 0, target*len(classes))
	outLabels := make([]int, 0, target*len(classes))
	for _, idx := range byClass[majority] {
		outRows = append(outRows, rows[idx])
		outLabels = append(outLabels, majority)
	}
	for _, label := range classes {
		if label == majority {
			continue
		}
		members := byClass[label]
		for i := 0; i < target; i++ {
			idx := members[rng.Intn(len(members))]
			outRows = append(outRows, rows[idx])
			outLabels = append(outLabels, label)
		}
	}

	return outRows, outLabels, nil
}

func ClassCounts(labels []int) map[int]int {
	counts := map[int]int{}
	for _, l := range labels {
		counts[l]++
	}
	return counts
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
	"02-01-2006 15:04",
	"02-01-2006",
	"01/02/2006 15:04",
	"01/02/2006",
}

type DateError struct {
	Value string
}

func (e *DateError) Error() string {
	return fmt.Sprintf("unrecognized date %q", e.Value)
}

func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &DateError{Value: s}
}

// Age is the difference in calendar years between the two dates.
func Age(transactionTime, dob string) (int, error) {
	tx, err := ParseDate(transactionTime)
	if err != nil {
		return 0, fmt.Errorf("invalid transaction time: %w", err)
	}
	born, err := ParseDate(dob)
	if err != nil {
		return 0, fmt.Errorf("invalid date of birth: %w", err)
	}
	return tx.Year() - born.Year(), nil
}
