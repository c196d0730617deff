package tokenizer

// byteLevelTables builds the GPT-2 byte-to-unicode mapping: every byte value
// gets a printable representative rune so that control and non-printable
// bytes survive as visible vocabulary symbols. Printable latin bytes map to
// themselves; the rest are shifted into the 256+ plane in order.
func byteLevelTables() ([256]rune, map[rune]byte) {
	var encode [256]rune
	decode := make(map[rune]byte, 256)

	assigned := make(map[byte]bool, 256)
	mapSelf := func(lo, hi byte) {
		for b := lo; ; b++ {
			encode[b] = rune(b)
			decode[rune(b)] = b
			assigned[b] = true
			if b == hi {
				break
			}
		}
	}
	mapSelf('!', '~')
	mapSelf(0xA1, 0xAC) // ¡..¬
	mapSelf(0xAE, 0xFF) // ®..ÿ

	next := rune(256)
	for b := 0; b < 256; b++ {
		if assigned[byte(b)] {
			continue
		}
		encode[b] = next
		decode[next] = byte(b)
		next++
	}
	return encode, decode
}
