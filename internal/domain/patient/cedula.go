package patient

const (
	cedulaLength = 10
	maxProvince  = 24
)

var cedulaWeights = [9]int{2, 1, 2, 1, 2, 1, 2, 1, 2}

// IsValidCedula reports whether s is a well-formed Ecuadorian natural-person
// cedula: ten ASCII digits, a province code in 01..24, a third digit below 6,
// and a modulo-10 check digit over the first nine digits.
func IsValidCedula(s string) bool {
	if len(s) != cedulaLength {
		return false
	}
	var d [cedulaLength]int
	for i := 0; i < cedulaLength; i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return false
		}
		d[i] = int(c - '0')
	}

	province := d[0]*10 + d[1]
	if province < 1 || province > maxProvince {
		return false
	}
	if d[2] >= 6 {
		return false
	}

	sum := 0
	for i, w := range cedulaWeights {
		p := d[i] * w
		if p >= 10 {
			p -= 9
		}
		sum += p
	}

	check := (sum+9)/10*10 - sum
	if check == 10 {
		check = 0
	}
	return check == d[9]
}
