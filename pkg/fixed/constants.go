package fixed

var (
	Zero    = FromInt(0)
	One     = FromInt(1)
	Two     = FromInt(2)
	Three   = FromInt(3)
	Five    = FromInt(5)
	Ten     = FromInt(10)
	Hundred = FromInt(100)

	Half = MustParse("0.5")

	NegOne = FromInt(-1)
)
