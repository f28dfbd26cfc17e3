package audio

// fill is the device callback. It runs on the audio thread and must not
// block, allocate or take locks.
func (p *Player) fill(out []float32) {
	n := p.out.Read(out)
	if n < len(out) {
		clear(out[n:])
		p.underruns.Add(1)
	}

	if p.muted.Load() {
		clear(out)
		p.fade.Skip(len(out))
		return
	}

	vol := float32(clampVolume(int(p.volume.Load()))) / 100
	p.fade.Apply(out, vol)
}
