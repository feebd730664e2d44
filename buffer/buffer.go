package buffer

import (
	"math"
	"sync"
)

type Average float64
type Minimum float64
type Maximum float64
type Size int

// SampleBuffer is a fixed size rolling window of samples. Statistics only cover
// the samples actually added, so a part filled buffer is not skewed by zeros.
type SampleBuffer struct {
	position int
	count    int
	size     int
	data     []float64
	lock     sync.Mutex
}

func NewBuffer(size int) *SampleBuffer {
	if size < 1 {
		size = 1
	}
	return &SampleBuffer{
		size: size,
		data: make([]float64, size),
	}
}

func (b *SampleBuffer) AddItem(val float64) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.data[b.position] = val
	b.position += 1
	if b.position == b.size {
		b.position = 0
	}
	if b.count < b.size {
		b.count += 1
	}
}

// GetAverageMinMax returns zeros for an empty buffer.
func (b *SampleBuffer) GetAverageMinMax() (Average, Minimum, Maximum) {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.averageMinMaxLast(b.count)
}

// AverageMinMaxLast covers the most recent numberOfItems samples.
func (b *SampleBuffer) AverageMinMaxLast(numberOfItems int) (Average, Minimum, Maximum) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if numberOfItems > b.count {
		numberOfItems = b.count
	}
	return b.averageMinMaxLast(numberOfItems)
}

func (b *SampleBuffer) averageMinMaxLast(numberOfItems int) (Average, Minimum, Maximum) {
	if numberOfItems <= 0 {
		return 0, 0, 0
	}
	index := b.position - numberOfItems
	if index < 0 {
		// we are at the start of the array, so need to reverse wrap
		index += b.size
	}
	min := math.MaxFloat64
	max := -math.MaxFloat64
	sum := 0.0
	for i := 0; i < numberOfItems; i++ {
		x := b.data[index]
		sum += x
		if x > max {
			max = x
		}
		if x < min {
			min = x
		}
		index += 1
		if index == b.size {
			index = 0
		}
	}
	return Average(sum / float64(numberOfItems)), Minimum(min), Maximum(max)
}

func (b *SampleBuffer) Len() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.count
}

func (b *SampleBuffer) GetSize() Size {
	return Size(b.size)
}

// GetLast returns false if nothing has been added yet.
func (b *SampleBuffer) GetLast() (float64, bool) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.count == 0 {
		return 0, false
	}
	index := b.position - 1
	if index < 0 {
		index += b.size
	}
	return b.data[index], true
}
