// Package harmonic provides the integer theory used to enumerate harmonics:
// factorisation, a prime sieve, overtone relations and the pruned harmonic
// sequence searched by the cluster detector.
package harmonic

import "sort"

// AllFactors returns 1 and every proper divisor of n in ascending order.
// n itself is not included, so AllFactors(1) is [1] and AllFactors(7) is [1].
func AllFactors(n int) []int {
	if n <= 0 {
		return nil
	}
	fs := []int{1}
	for i := 2; i*i <= n; i++ {
		if n%i != 0 {
			continue
		}
		fs = append(fs, i)
		if j := n / i; j != i {
			fs = append(fs, j)
		}
	}
	sort.Ints(fs)
	return fs
}

// PrimeFactors returns the prime factorisation of n as a multiset in
// ascending order, e.g. PrimeFactors(12) is [2 2 3]. Values below 2 have no
// prime factors.
func PrimeFactors(n int) []int {
	if n < 2 {
		return nil
	}
	var out []int
	for n%2 == 0 {
		out = append(out, 2)
		n /= 2
	}
	for i := 3; i*i <= n; i += 2 {
		for n%i == 0 {
			out = append(out, i)
			n /= i
		}
	}
	if n > 2 {
		out = append(out, n)
	}
	return out
}

// LargestPrimeFactor returns the biggest prime dividing n, or 1 for n < 2.
func LargestPrimeFactor(n int) int {
	pf := PrimeFactors(n)
	if len(pf) == 0 {
		return 1
	}
	return pf[len(pf)-1]
}

// Sieve returns a slice s of length upper+1 where s[i] reports whether i is
// prime. s[0] and s[1] are false.
func Sieve(upper int) []bool {
	if upper < 0 {
		return nil
	}
	s := make([]bool, upper+1)
	for i := 2; i <= upper; i++ {
		s[i] = true
	}
	for i := 2; i*i <= upper; i++ {
		if !s[i] {
			continue
		}
		for j := i * i; j <= upper; j += i {
			s[j] = false
		}
	}
	return s
}

// Primes lists the primes <= upper.
func Primes(upper int) []int {
	var out []int
	for i, prime := range Sieve(upper) {
		if prime {
			out = append(out, i)
		}
	}
	return out
}

// IsOvertone reports whether base is an overtone base of h: h/base is an
// integer greater than one and not larger than limit. A limit <= 0 means
// no limit.
func IsOvertone(base, h, limit int) bool {
	if base <= 0 || h <= base || h%base != 0 {
		return false
	}
	return limit <= 0 || h/base <= limit
}

// Overtones returns the harmonics of which h is an overtone, restricted by
// the overtone limit, in ascending order.
func Overtones(h, limit int) []int {
	var out []int
	for _, f := range AllFactors(h) {
		if IsOvertone(f, h, limit) {
			out = append(out, f)
		}
	}
	return out
}

// Sequence returns the harmonics 1..maxH worth searching under the prime
// factor limit: every harmonic whose largest prime factor does not exceed
// limit. A limit <= 0 keeps every harmonic.
func Sequence(maxH, limit int) []int {
	if maxH < 1 {
		return nil
	}
	out := make([]int, 0, maxH)
	for h := 1; h <= maxH; h++ {
		if limit > 0 && LargestPrimeFactor(h) > limit {
			continue
		}
		out = append(out, h)
	}
	return out
}
