//go:build !race

package library

func passwordHashCost() int {
	return 14
}
