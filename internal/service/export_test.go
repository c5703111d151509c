package service

// CachedTemplates reports how many parsed templates r holds.
func (r *LiquidRenderer) CachedTemplates() int { return r.cache.Len() }
