package practice

// GradeBand maps a minimum accuracy score to a letter grade.
type GradeBand struct {
	// Min is the inclusive lower bound, 0 to 100.
	Min float64

	// Grade is the letter awarded at or above Min.
	Grade string
}

// GradeScale is an ordered set of bands, highest Min first. The first
// band whose Min the score reaches wins.
type GradeScale []GradeBand

// DefaultGradeScale returns the standard letter scale.
func DefaultGradeScale() GradeScale {
	return GradeScale{
		{Min: 90, Grade: "A"},
		{Min: 75, Grade: "B"},
		{Min: 60, Grade: "C"},
		{Min: 40, Grade: "D"},
		{Min: 0, Grade: "F"},
	}
}

// Grade returns the letter for an accuracy score of 0 to 100.
func (s GradeScale) Grade(score float64) string {
	for _, band := range s {
		if score >= band.Min {
			return band.Grade
		}
	}
	return "F"
}

// accuracyScore converts judged counts to a 0 to 100 score. Zero
// submissions score zero.
func accuracyScore(correct, incorrect int) float64 {
	total := correct + incorrect
	if total == 0 {
		return 0
	}
	return 100 * float64(correct) / float64(total)
}
